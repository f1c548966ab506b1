// Package errors provides structured error handling for the retrieval core.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Input errors (malformed query or filter)
//   - 2XX: Store errors (SQLite, index files)
//   - 3XX: Capability errors (embedding, entity extraction)
//   - 4XX: Timeout errors (path or query budget exceeded)
//   - 5XX: Consistency errors (dimension mismatch, dangling references)
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryInput indicates malformed queries or filters.
	CategoryInput Category = "INPUT"
	// CategoryStore indicates storage-layer errors.
	CategoryStore Category = "STORE"
	// CategoryCapability indicates an unreachable external capability.
	CategoryCapability Category = "CAPABILITY"
	// CategoryTimeout indicates an exceeded time budget.
	CategoryTimeout Category = "TIMEOUT"
	// CategoryConsistency indicates index/store disagreement.
	CategoryConsistency Category = "CONSISTENCY"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, the query fails.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but the caller can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Input errors (100-199)
	ErrCodeEmptyQuery    = "ERR_101_EMPTY_QUERY"
	ErrCodeInvalidFilter = "ERR_102_INVALID_FILTER"
	ErrCodeInvalidWeight = "ERR_103_INVALID_WEIGHT"

	// Store errors (200-299)
	ErrCodeStoreUnavailable = "ERR_201_STORE_UNAVAILABLE"
	ErrCodeStoreCorrupt     = "ERR_202_STORE_CORRUPT"
	ErrCodeDocumentMissing  = "ERR_203_DOCUMENT_MISSING"

	// Capability errors (300-399)
	ErrCodeEmbedderUnavailable  = "ERR_301_EMBEDDER_UNAVAILABLE"
	ErrCodeExtractorUnavailable = "ERR_302_EXTRACTOR_UNAVAILABLE"

	// Timeout errors (400-499)
	ErrCodePathTimeout  = "ERR_401_PATH_TIMEOUT"
	ErrCodeQueryTimeout = "ERR_402_QUERY_TIMEOUT"

	// Consistency errors (500-599)
	ErrCodeDimensionMismatch = "ERR_501_DIMENSION_MISMATCH"
	ErrCodeStaleEmbedding    = "ERR_502_STALE_EMBEDDING"
	ErrCodeDanglingCandidate = "ERR_503_DANGLING_CANDIDATE"
)

// categoryFromCode derives the category from the numeric range in the code.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryStore
	}
	switch code[4] {
	case '1':
		return CategoryInput
	case '2':
		return CategoryStore
	case '3':
		return CategoryCapability
	case '4':
		return CategoryTimeout
	case '5':
		return CategoryConsistency
	default:
		return CategoryStore
	}
}

// severityFromCode derives severity from the code.
// Only store unavailability is fatal; every retrieval path degrades locally.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStoreUnavailable, ErrCodeStoreCorrupt:
		return SeverityFatal
	case ErrCodeEmptyQuery, ErrCodeInvalidFilter, ErrCodeInvalidWeight:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// isRetryableCode reports whether the failed operation may succeed on retry.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbedderUnavailable, ErrCodeExtractorUnavailable,
		ErrCodePathTimeout, ErrCodeQueryTimeout:
		return true
	default:
		return false
	}
}
