package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectBatch(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_EmitsAfterQuietWindow(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "a.md", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "b.md", Operation: OpModify, Timestamp: time.Now()})

	batch := collectBatch(t, d)
	require.Len(t, batch, 2)
}

func TestDebouncer_CoalescesRapidEvents(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want Operation
	}{
		{"create then modify stays create", []Operation{OpCreate, OpModify}, OpCreate},
		{"modify then delete becomes delete", []Operation{OpModify, OpDelete}, OpDelete},
		{"delete then create becomes modify", []Operation{OpDelete, OpCreate}, OpModify},
		{"repeated modifies collapse", []Operation{OpModify, OpModify, OpModify}, OpModify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(20 * time.Millisecond)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "doc.md", Operation: op, Timestamp: time.Now()})
			}

			batch := collectBatch(t, d)
			require.Len(t, batch, 1)
			assert.Equal(t, tt.want, batch[0].Operation)
		})
	}
}

func TestDebouncer_CreateThenDeleteCancelsOut(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "ghost.md", Operation: OpCreate, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "ghost.md", Operation: OpDelete, Timestamp: time.Now()})
	d.Add(FileEvent{Path: "real.md", Operation: OpModify, Timestamp: time.Now()})

	batch := collectBatch(t, d)
	require.Len(t, batch, 1)
	assert.Equal(t, "real.md", batch[0].Path)
}

func TestDebouncer_BurstResetsWindow(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add(FileEvent{Path: "a.md", Operation: OpModify, Timestamp: time.Now()})
	time.Sleep(30 * time.Millisecond)
	d.Add(FileEvent{Path: "a.md", Operation: OpModify, Timestamp: time.Now()})

	// 30ms after the second event the original window has elapsed but
	// the reset one has not.
	select {
	case <-d.Output():
		t.Fatal("batch emitted before the window went quiet")
	case <-time.After(30 * time.Millisecond):
	}

	batch := collectBatch(t, d)
	assert.Len(t, batch, 1)
}

func TestDebouncer_StopIsIdempotent(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "late.md", Operation: OpCreate, Timestamp: time.Now()})

	_, open := <-d.Output()
	assert.False(t, open)
}
