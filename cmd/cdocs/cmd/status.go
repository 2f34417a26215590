package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/compounding-docs/cdocs/internal/config"
	"github.com/compounding-docs/cdocs/internal/doctype"
	"github.com/compounding-docs/cdocs/internal/embed"
	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/store"
	"github.com/compounding-docs/cdocs/internal/tenant"
	"github.com/compounding-docs/cdocs/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var rootPath string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project index health and document counts",
		Long: `Display information about the project's document index:
  - Tenant identity (project, branch, path hash)
  - Document counts per doc type
  - Storage sizes (metadata, vectors)
  - Embedding service availability`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, rootPath, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&rootPath, "root", ".", "Project root path")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, rootPath string, jsonOutput bool) error {
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load(root, nil)
	if err != nil {
		return fmt.Errorf("no cdocs configuration at %s: %w", config.Path(root), err)
	}

	key, err := tenant.Resolve(root, cfg.ProjectName)
	if err != nil {
		return err
	}

	indexDir := filepath.Join(config.StateDir(root), "index")
	if !fileExists(filepath.Join(indexDir, "docs.db")) {
		return fmt.Errorf("no index found in %s\nStart the server and call activate_project to build one", root)
	}

	info, err := collectStatus(ctx, cfg, key, root, indexDir)
	if err != nil {
		return fmt.Errorf("failed to collect status: %w", err)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), !ui.ShouldUseColor(cmd.OutOrStdout()))
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func collectStatus(ctx context.Context, cfg *config.Config, key tenant.Key, root, indexDir string) (ui.StatusInfo, error) {
	docsRoot := cfg.DocsDir
	if !filepath.IsAbs(docsRoot) {
		docsRoot = filepath.Join(root, docsRoot)
	}
	info := ui.StatusInfo{
		Project:       key.Project,
		Branch:        key.Branch,
		PathHash:      key.PathHash,
		DocsRoot:      docsRoot,
		EmbeddingHost: cfg.Embedding.Host,
	}

	st, err := store.Open(indexDir, store.Options{})
	if err != nil {
		return info, err
	}
	defer func() { _ = st.Close() }()

	entries, err := st.List(ctx, key)
	if err != nil {
		return info, err
	}
	info.TotalDocuments = len(entries)
	for _, e := range entries {
		if e.UpdatedAt.After(info.LastIndexed) {
			info.LastIndexed = e.UpdatedAt
		}
	}

	registry := doctype.NewRegistry(cfg.CustomDocTypes)
	for _, schema := range registry.Schemas() {
		count, err := st.CountByDocType(ctx, key, schema.Name)
		if err != nil {
			return info, err
		}
		info.DocTypes = append(info.DocTypes, ui.DocTypeCount{
			Name:      schema.Name,
			Folder:    schema.Folder,
			Documents: count,
		})
	}

	info.MetadataSize = fileSize(filepath.Join(indexDir, "docs.db"))
	info.VectorSize = fileSize(filepath.Join(indexDir, "docs.hnsw")) +
		fileSize(filepath.Join(indexDir, "chunks.hnsw"))
	info.TotalSize = info.MetadataSize + info.VectorSize

	info.EmbeddingStatus = probeEmbedding(ctx, cfg.Embedding.Host)
	return info, nil
}

// probeEmbedding makes one short embedding call to see if the
// generator service answers.
func probeEmbedding(ctx context.Context, host string) string {
	client := embed.NewHTTPClient(embed.Options{
		Host:    host,
		Timeout: 3 * time.Second,
		Retry:   cdocserr.RetryConfig{MaxRetries: 1, InitialDelay: 50 * time.Millisecond},
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.Embed(ctx, "ping"); err != nil {
		return "offline"
	}
	return "ready"
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
