package store

import (
	"github.com/gofrs/flock"

	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
)

// indexLock is an advisory file lock guarding the store directory
// against a second server process.
type indexLock struct {
	fl *flock.Flock
}

func acquireIndexLock(path string) (*indexLock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, cdocserr.Wrap(cdocserr.TagFileSystemError, "failed to acquire index lock", err)
	}
	if !locked {
		return nil, cdocserr.Newf(cdocserr.TagVectorStoreError,
			"index directory is locked by another process: %s", path).
			WithSuggestion("Stop the other cdocs server using this project, then retry.")
	}
	return &indexLock{fl: fl}, nil
}

func (l *indexLock) Release() error {
	return l.fl.Unlock()
}
