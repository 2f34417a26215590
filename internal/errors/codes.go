// Package errors provides structured error handling for cdocs.
//
// Every surfaced error carries one of the stable string tags below. The
// tags are part of the tool protocol: clients match on them, so they
// never change spelling.
package errors

// Tag identifies an error class in tool replies.
type Tag string

const (
	// TagProjectNotActivated is returned when a tool is called before
	// activate_project.
	TagProjectNotActivated Tag = "ProjectNotActivated"
	// TagInvalidArgument indicates a parameter out of range, a bad path,
	// an empty query, or an unknown enum value.
	TagInvalidArgument Tag = "InvalidArgument"
	// TagDocumentNotFound indicates a path that does not resolve to an
	// indexed document.
	TagDocumentNotFound Tag = "DocumentNotFound"
	// TagSchemaValidationFailed indicates frontmatter that fails its
	// doc-type schema.
	TagSchemaValidationFailed Tag = "SchemaValidationFailed"
	// TagEmbeddingUnavailable indicates the embedding circuit is open or
	// retries were exhausted.
	TagEmbeddingUnavailable Tag = "EmbeddingUnavailable"
	// TagVectorStoreError indicates a storage failure.
	TagVectorStoreError Tag = "VectorStoreError"
	// TagInvalidDocType indicates a doc-type not registered for the
	// active tenant.
	TagInvalidDocType Tag = "InvalidDocType"
	// TagFileSystemError indicates an I/O failure, a path-traversal
	// rejection, or a permission problem.
	TagFileSystemError Tag = "FileSystemError"
	// TagCycleDetected is informational only; it never fails a caller.
	TagCycleDetected Tag = "CycleDetected"
	// TagConfigInvalid indicates a config.json that cannot be loaded.
	TagConfigInvalid Tag = "ConfigInvalid"
	// TagDeadlineExceeded indicates the caller's deadline elapsed.
	TagDeadlineExceeded Tag = "DeadlineExceeded"
	// TagCancelled indicates the caller cancelled the request.
	TagCancelled Tag = "Cancelled"
	// TagInternal indicates an unexpected internal error.
	TagInternal Tag = "Internal"
)

// Retryable reports whether operations failing with this tag may
// succeed on a later attempt without user action.
func (t Tag) Retryable() bool {
	switch t {
	case TagEmbeddingUnavailable, TagVectorStoreError:
		return true
	default:
		return false
	}
}
