package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"
)

// DocTypeCount is the per-type document tally for a project.
type DocTypeCount struct {
	Name      string `json:"name"`
	Folder    string `json:"folder"`
	Documents int    `json:"documents"`
}

// StatusInfo contains project index health information.
type StatusInfo struct {
	Project  string `json:"project"`
	Branch   string `json:"branch"`
	PathHash string `json:"path_hash"`
	DocsRoot string `json:"docs_root"`

	TotalDocuments int            `json:"total_documents"`
	DocTypes       []DocTypeCount `json:"doc_types"`
	LastIndexed    time.Time      `json:"last_indexed,omitzero"`

	MetadataSize int64 `json:"metadata_size"`
	VectorSize   int64 `json:"vector_size"`
	TotalSize    int64 `json:"total_size"`

	EmbeddingHost   string `json:"embedding_host"`
	EmbeddingStatus string `json:"embedding_status"` // "ready", "offline"
	ExternalDocs    int    `json:"external_docs,omitempty"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render displays status info for a terminal reader.
func (r *StatusRenderer) Render(info StatusInfo) error {
	st := r.styles
	_, _ = fmt.Fprintf(r.out, "%s\n\n", st.Header.Render("Project: "+info.Project+"@"+info.Branch))

	_, _ = fmt.Fprintf(r.out, "  %s %s\n", st.Label.Render("Docs root:"), info.DocsRoot)
	_, _ = fmt.Fprintf(r.out, "  %s %s\n", st.Label.Render("Tenant:   "), info.PathHash)
	_, _ = fmt.Fprintf(r.out, "  %s %d\n", st.Label.Render("Documents:"), info.TotalDocuments)
	if !info.LastIndexed.IsZero() {
		_, _ = fmt.Fprintf(r.out, "  %s %s\n", st.Label.Render("Updated:  "), formatAge(info.LastIndexed))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(info.DocTypes) > 0 {
		_, _ = fmt.Fprintln(r.out, "  Doc types:")
		types := append([]DocTypeCount(nil), info.DocTypes...)
		sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
		for _, dt := range types {
			_, _ = fmt.Fprintf(r.out, "    %-12s %4d  %s\n",
				dt.Name, dt.Documents, st.Dim.Render(dt.Folder+"/"))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Metadata: %s\n", FormatBytes(info.MetadataSize))
	_, _ = fmt.Fprintf(r.out, "    Vectors:  %s\n", FormatBytes(info.VectorSize))
	_, _ = fmt.Fprintf(r.out, "    Total:    %s\n", FormatBytes(info.TotalSize))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintf(r.out, "  Embedding: %s (%s)\n",
		r.renderStatus(info.EmbeddingStatus), info.EmbeddingHost)
	if info.ExternalDocs > 0 {
		_, _ = fmt.Fprintf(r.out, "  External docs: %d\n", info.ExternalDocs)
	}
	return nil
}

// RenderJSON outputs status as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderStatus(status string) string {
	switch status {
	case "ready":
		return r.styles.Success.Render(status)
	case "offline":
		return r.styles.Warning.Render(status)
	default:
		return r.styles.Error.Render(status)
	}
}

// FormatBytes renders a byte count in human units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func formatAge(t time.Time) string {
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		return t.Format("2006-01-02 15:04")
	}
}
