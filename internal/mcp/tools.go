package mcp

import (
	"context"
	"log/slog"
	"path"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/compounding-docs/cdocs/internal/doctype"
	cdocserr "github.com/compounding-docs/cdocs/internal/errors"
	"github.com/compounding-docs/cdocs/internal/health"
	"github.com/compounding-docs/cdocs/internal/rag"
	"github.com/compounding-docs/cdocs/internal/search"
	"github.com/compounding-docs/cdocs/internal/store"
)

// ActivateProjectInput is the input for activate_project.
type ActivateProjectInput struct {
	RootPath string `json:"root_path" jsonschema:"absolute path of the repository root containing .csharp-compounding-docs/config.json"`
}

// ActivateProjectOutput is the activate_project reply.
type ActivateProjectOutput struct {
	Activated bool           `json:"activated"`
	Project   string         `json:"project_name"`
	Branch    string         `json:"branch_name"`
	PathHash  string         `json:"path_hash"`
	Config    map[string]any `json:"config"`
}

// IndexDocumentInput is the input for index_document.
type IndexDocumentInput struct {
	RelativePath string `json:"relative_path" jsonschema:"document path relative to the docs root, .md extension"`
}

// IndexDocumentOutput is the index_document reply.
type IndexDocumentOutput struct {
	Status              string `json:"status"`
	Path                string `json:"path"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
}

// SemanticSearchInput is the input for semantic_search.
type SemanticSearchInput struct {
	Query             string   `json:"query" jsonschema:"the search query"`
	DocTypes          []string `json:"doc_types,omitempty" jsonschema:"restrict to these doc types"`
	Limit             *int     `json:"limit,omitempty" jsonschema:"maximum results, default 10, max 50; zero returns no results"`
	MinRelevanceScore *float64 `json:"min_relevance_score,omitempty" jsonschema:"relevance floor in [0,1], default 0.5"`
	PromotionLevels   []string `json:"promotion_levels,omitempty" jsonschema:"restrict to these promotion levels"`
}

// SemanticSearchOutput is the semantic_search reply.
type SemanticSearchOutput struct {
	Results []search.Hit `json:"results"`
	Count   int          `json:"count"`
}

// RagQueryInput is the input for rag_query and rag_query_external.
type RagQueryInput struct {
	Query             string   `json:"query" jsonschema:"the question to retrieve context for"`
	DocTypes          []string `json:"doc_types,omitempty" jsonschema:"restrict to these doc types"`
	MaxSources        int      `json:"max_sources,omitempty" jsonschema:"maximum primary sources, default 3"`
	MinRelevanceScore *float64 `json:"min_relevance_score,omitempty" jsonschema:"relevance floor in [0,1], default 0.7"`
	MinPromotionLevel string   `json:"min_promotion_level,omitempty" jsonschema:"lowest promotion level considered, default standard"`
	IncludeCritical   *bool    `json:"include_critical,omitempty" jsonschema:"prepend critical documents regardless of score, default true"`
}

// RagQueryOutput is the rag_query reply.
type RagQueryOutput struct {
	Answer  string       `json:"answer,omitempty"`
	Sources []rag.Source `json:"sources"`
}

// ExternalSearchInput is the input for search_external_docs.
type ExternalSearchInput struct {
	Query             string   `json:"query" jsonschema:"the search query"`
	Limit             *int     `json:"limit,omitempty" jsonschema:"maximum results, default 10, max 50; zero returns no results"`
	MinRelevanceScore *float64 `json:"min_relevance_score,omitempty" jsonschema:"relevance floor in [0,1], default 0.5"`
}

// ListDocTypesInput is the (empty) input for list_doc_types.
type ListDocTypesInput struct{}

// DocTypeInfo describes one registered doc-type.
type DocTypeInfo struct {
	Name         string `json:"name"`
	Folder       string `json:"folder"`
	Builtin      bool   `json:"builtin"`
	CustomFields int    `json:"custom_fields"`
	Documents    int    `json:"documents"`
}

// ListDocTypesOutput is the list_doc_types reply.
type ListDocTypesOutput struct {
	DocTypes []DocTypeInfo `json:"doc_types"`
}

// DeleteDocumentsInput is the input for delete_documents.
type DeleteDocumentsInput struct {
	Paths []string `json:"paths" jsonschema:"docs-root-relative paths of the documents to remove from the index"`
}

// DeleteDocumentsOutput is the delete_documents reply.
type DeleteDocumentsOutput struct {
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// UpdatePromotionInput is the input for update_promotion_level.
type UpdatePromotionInput struct {
	Path  string `json:"path" jsonschema:"docs-root-relative document path"`
	Level string `json:"level" jsonschema:"new promotion level: standard, important, or critical"`
}

// UpdatePromotionOutput is the update_promotion_level reply.
type UpdatePromotionOutput struct {
	Path           string `json:"path"`
	PromotionLevel string `json:"promotion_level"`
}

// HealthStatusInput is the (empty) input for health_status.
type HealthStatusInput struct{}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "activate_project",
		Description: "Activate a project by its repository root. Loads config, computes the tenant, reconciles the index with the docs directory, and starts the file watcher. Must be called before any other tool.",
	}, s.handleActivateProject)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_document",
		Description: "Explicitly (re)index one markdown document by its docs-root-relative path.",
	}, s.handleIndexDocument)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "semantic_search",
		Description: "Similarity search over the project's documents and chunks. Long documents surface their best-matching section with its header path.",
	}, s.handleSemanticSearch)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query",
		Description: "Assemble a context set for a question: critical documents first, then the most relevant documents and sections, optionally expanded along document links. Returns a synthesized answer when a generator is configured.",
	}, s.handleRagQuery)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_external_docs",
		Description: "Similarity search over the separately indexed external documentation collection.",
	}, s.handleSearchExternal)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "rag_query_external",
		Description: "Assemble a context set from the external documentation collection.",
	}, s.handleRagQueryExternal)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_doc_types",
		Description: "List registered doc-types with their folder, schema, and per-type document count.",
	}, s.handleListDocTypes)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "delete_documents",
		Description: "Remove documents from the index by path. Files on disk are not touched.",
	}, s.handleDeleteDocuments)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "update_promotion_level",
		Description: "Change one document's promotion level in the index.",
	}, s.handleUpdatePromotion)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "health_status",
		Description: "Report embedding-service availability: circuit state, failure count, and retry timing.",
	}, s.handleHealthStatus)

	s.logger.Debug("MCP tools registered", slog.Int("count", 10))
}

func (s *Server) handleActivateProject(ctx context.Context, _ *mcp.CallToolRequest, input ActivateProjectInput) (
	*mcp.CallToolResult, ActivateProjectOutput, error,
) {
	if input.RootPath == "" {
		return errorResult(cdocserr.New(cdocserr.TagInvalidArgument, "root_path is required")), ActivateProjectOutput{}, nil
	}

	session, err := s.Activate(ctx, input.RootPath)
	if err != nil {
		return errorResult(err), ActivateProjectOutput{}, nil
	}

	return nil, ActivateProjectOutput{
		Activated: true,
		Project:   session.Key.Project,
		Branch:    session.Key.Branch,
		PathHash:  session.Key.PathHash,
		Config:    session.Config.Summary(),
	}, nil
}

func (s *Server) handleIndexDocument(ctx context.Context, _ *mcp.CallToolRequest, input IndexDocumentInput) (
	*mcp.CallToolResult, IndexDocumentOutput, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), IndexDocumentOutput{}, nil
	}

	rel, err := normalizeDocPath(input.RelativePath)
	if err != nil {
		return errorResult(err), IndexDocumentOutput{}, nil
	}

	result, err := session.Indexer.IndexFile(ctx, rel)
	if err != nil {
		return errorResult(err), IndexDocumentOutput{}, nil
	}

	return nil, IndexDocumentOutput{
		Status:              result.String(),
		Path:                rel,
		EmbeddingDimensions: store.Dimensions,
	}, nil
}

func (s *Server) handleSemanticSearch(ctx context.Context, _ *mcp.CallToolRequest, input SemanticSearchInput) (
	*mcp.CallToolResult, SemanticSearchOutput, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), SemanticSearchOutput{}, nil
	}

	if err := validateQuery(input.Query); err != nil {
		return errorResult(err), SemanticSearchOutput{}, nil
	}
	if err := validateDocTypes(session.Registry, input.DocTypes); err != nil {
		return errorResult(err), SemanticSearchOutput{}, nil
	}
	for _, level := range input.PromotionLevels {
		if !doctype.ValidLevel(level) {
			return errorResult(cdocserr.Newf(cdocserr.TagInvalidArgument,
				"unknown promotion level %q", level)), SemanticSearchOutput{}, nil
		}
	}

	req := search.Request{
		Query: input.Query,
		Filter: store.SearchFilter{
			Tenant:          session.Key,
			DocTypes:        input.DocTypes,
			PromotionLevels: input.PromotionLevels,
		},
	}
	if input.Limit != nil {
		if *input.Limit < 0 {
			return errorResult(cdocserr.Newf(cdocserr.TagInvalidArgument,
				"limit must not be negative, got %d", *input.Limit)), SemanticSearchOutput{}, nil
		}
		req = req.WithLimit(*input.Limit)
	}
	if input.MinRelevanceScore != nil {
		score := *input.MinRelevanceScore
		if score < 0 || score > 1 {
			return errorResult(cdocserr.Newf(cdocserr.TagInvalidArgument,
				"min_relevance_score must be in [0,1], got %v", score)), SemanticSearchOutput{}, nil
		}
		req = req.WithMinScore(score)
	} else {
		req = req.WithMinScore(session.Config.MinRelevanceScore)
	}

	hits, err := session.Search.Search(ctx, req)
	if err != nil {
		return errorResult(err), SemanticSearchOutput{}, nil
	}
	return nil, SemanticSearchOutput{Results: hits, Count: len(hits)}, nil
}

func (s *Server) handleRagQuery(ctx context.Context, _ *mcp.CallToolRequest, input RagQueryInput) (
	*mcp.CallToolResult, RagQueryOutput, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), RagQueryOutput{}, nil
	}

	if err := validateQuery(input.Query); err != nil {
		return errorResult(err), RagQueryOutput{}, nil
	}
	if err := validateDocTypes(session.Registry, input.DocTypes); err != nil {
		return errorResult(err), RagQueryOutput{}, nil
	}

	filter := store.SearchFilter{
		Tenant:   session.Key,
		DocTypes: input.DocTypes,
	}
	minLevel := input.MinPromotionLevel
	if minLevel == "" {
		minLevel = doctype.LevelStandard
	}
	if !doctype.ValidLevel(minLevel) {
		return errorResult(cdocserr.Newf(cdocserr.TagInvalidArgument,
			"unknown promotion level %q", minLevel)), RagQueryOutput{}, nil
	}
	if minLevel != doctype.LevelStandard {
		filter.PromotionLevels = doctype.AllowedLevels(minLevel)
	}

	opts := rag.Options{
		MaxSources:        input.MaxSources,
		IncludeCritical:   input.IncludeCritical == nil || *input.IncludeCritical,
		LinkExpansion:     session.Config.LinkExpansion,
		MaxLinkedDocs:     session.Config.MaxLinkedDocs,
		MaxLinkDepth:      session.Config.MaxLinkDepth,
		MaxTraversalNodes: session.Config.MaxTraversalDepth,
	}
	if input.MinRelevanceScore != nil {
		opts.MinScore = *input.MinRelevanceScore
	} else {
		opts.MinScore = session.Config.RAGMinScore
	}

	sources, err := session.Retriever.Retrieve(ctx, input.Query, filter, opts)
	if err != nil {
		return errorResult(err), RagQueryOutput{}, nil
	}

	output := RagQueryOutput{Sources: sources}
	if session.Generator != nil && len(sources) > 0 {
		answer, err := session.Generator.Generate(ctx, input.Query, sources)
		if err != nil {
			s.logger.Warn("answer synthesis failed, returning sources only",
				slog.String("error", err.Error()))
		} else {
			output.Answer = answer
		}
	}
	return nil, output, nil
}

func (s *Server) handleSearchExternal(ctx context.Context, _ *mcp.CallToolRequest, input ExternalSearchInput) (
	*mcp.CallToolResult, SemanticSearchOutput, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), SemanticSearchOutput{}, nil
	}
	if session.External == nil {
		return errorResult(cdocserr.New(cdocserr.TagConfigInvalid, "no external docs collection is configured").
			WithSuggestion("Set external_docs.path in config.json.")), SemanticSearchOutput{}, nil
	}
	if err := validateQuery(input.Query); err != nil {
		return errorResult(err), SemanticSearchOutput{}, nil
	}

	req := search.Request{Query: input.Query}
	if input.Limit != nil {
		if *input.Limit < 0 {
			return errorResult(cdocserr.Newf(cdocserr.TagInvalidArgument,
				"limit must not be negative, got %d", *input.Limit)), SemanticSearchOutput{}, nil
		}
		req = req.WithLimit(*input.Limit)
	}
	if input.MinRelevanceScore != nil {
		req = req.WithMinScore(*input.MinRelevanceScore)
	}

	hits, err := session.External.Search(ctx, req)
	if err != nil {
		return errorResult(err), SemanticSearchOutput{}, nil
	}
	return nil, SemanticSearchOutput{Results: hits, Count: len(hits)}, nil
}

func (s *Server) handleRagQueryExternal(ctx context.Context, _ *mcp.CallToolRequest, input RagQueryInput) (
	*mcp.CallToolResult, RagQueryOutput, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), RagQueryOutput{}, nil
	}
	if session.External == nil {
		return errorResult(cdocserr.New(cdocserr.TagConfigInvalid, "no external docs collection is configured").
			WithSuggestion("Set external_docs.path in config.json.")), RagQueryOutput{}, nil
	}
	if err := validateQuery(input.Query); err != nil {
		return errorResult(err), RagQueryOutput{}, nil
	}

	opts := rag.Options{MaxSources: input.MaxSources}
	if input.MinRelevanceScore != nil {
		opts.MinScore = *input.MinRelevanceScore
	} else {
		opts.MinScore = session.Config.RAGMinScore
	}

	sources, err := session.External.Retrieve(ctx, input.Query, store.SearchFilter{}, opts)
	if err != nil {
		return errorResult(err), RagQueryOutput{}, nil
	}

	output := RagQueryOutput{Sources: sources}
	if session.Generator != nil && len(sources) > 0 {
		answer, err := session.Generator.Generate(ctx, input.Query, sources)
		if err != nil {
			s.logger.Warn("answer synthesis failed, returning sources only",
				slog.String("error", err.Error()))
		} else {
			output.Answer = answer
		}
	}
	return nil, output, nil
}

func (s *Server) handleListDocTypes(ctx context.Context, _ *mcp.CallToolRequest, _ ListDocTypesInput) (
	*mcp.CallToolResult, ListDocTypesOutput, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), ListDocTypesOutput{}, nil
	}

	schemas := session.Registry.Schemas()
	output := ListDocTypesOutput{DocTypes: make([]DocTypeInfo, 0, len(schemas))}
	for _, schema := range schemas {
		count, err := session.Store.CountByDocType(ctx, session.Key, schema.Name)
		if err != nil {
			return errorResult(err), ListDocTypesOutput{}, nil
		}
		output.DocTypes = append(output.DocTypes, DocTypeInfo{
			Name:         schema.Name,
			Folder:       schema.Folder,
			Builtin:      schema.Builtin,
			CustomFields: len(schema.Fields),
			Documents:    count,
		})
	}
	return nil, output, nil
}

func (s *Server) handleDeleteDocuments(ctx context.Context, _ *mcp.CallToolRequest, input DeleteDocumentsInput) (
	*mcp.CallToolResult, DeleteDocumentsOutput, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), DeleteDocumentsOutput{}, nil
	}
	if len(input.Paths) == 0 {
		return errorResult(cdocserr.New(cdocserr.TagInvalidArgument, "paths must not be empty")), DeleteDocumentsOutput{}, nil
	}

	output := DeleteDocumentsOutput{Deleted: make([]string, 0, len(input.Paths))}
	for _, p := range input.Paths {
		rel, err := normalizeDocPath(p)
		if err == nil {
			err = session.Indexer.Remove(ctx, rel)
		}
		if err != nil {
			if output.Failed == nil {
				output.Failed = make(map[string]string)
			}
			output.Failed[p] = replyFor(err).Message
			continue
		}
		output.Deleted = append(output.Deleted, rel)
	}
	return nil, output, nil
}

func (s *Server) handleUpdatePromotion(ctx context.Context, _ *mcp.CallToolRequest, input UpdatePromotionInput) (
	*mcp.CallToolResult, UpdatePromotionOutput, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), UpdatePromotionOutput{}, nil
	}

	rel, err := normalizeDocPath(input.Path)
	if err != nil {
		return errorResult(err), UpdatePromotionOutput{}, nil
	}
	if !doctype.ValidLevel(input.Level) {
		return errorResult(cdocserr.Newf(cdocserr.TagInvalidArgument,
			"unknown promotion level %q", input.Level).
			WithSuggestion("Use standard, important, or critical.")), UpdatePromotionOutput{}, nil
	}

	if err := session.Store.UpdatePromotionLevel(ctx, session.Key, rel, input.Level); err != nil {
		return errorResult(err), UpdatePromotionOutput{}, nil
	}
	return nil, UpdatePromotionOutput{Path: rel, PromotionLevel: input.Level}, nil
}

func (s *Server) handleHealthStatus(_ context.Context, _ *mcp.CallToolRequest, _ HealthStatusInput) (
	*mcp.CallToolResult, health.Snapshot, error,
) {
	session, err := s.active()
	if err != nil {
		return errorResult(err), health.Snapshot{}, nil
	}
	return nil, session.Monitor.Snapshot(), nil
}

// validateQuery rejects empty or whitespace-only queries.
func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return cdocserr.New(cdocserr.TagInvalidArgument, "query must not be empty")
	}
	return nil
}

// validateDocTypes checks every requested type against the registry.
func validateDocTypes(registry *doctype.Registry, docTypes []string) error {
	for _, dt := range docTypes {
		if _, err := registry.Get(dt); err != nil {
			return err
		}
	}
	return nil
}

// normalizeDocPath validates and canonicalizes a docs-root-relative
// document path.
func normalizeDocPath(p string) (string, error) {
	if p == "" {
		return "", cdocserr.New(cdocserr.TagInvalidArgument, "path must not be empty")
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") {
		return "", cdocserr.Newf(cdocserr.TagInvalidArgument, "path must be relative to the docs root: %s", p)
	}
	clean := path.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", cdocserr.Newf(cdocserr.TagInvalidArgument, "path escapes the docs root: %s", p)
	}
	if !strings.HasSuffix(strings.ToLower(clean), ".md") {
		return "", cdocserr.Newf(cdocserr.TagInvalidArgument, "only markdown documents are indexed: %s", p)
	}
	return clean, nil
}
