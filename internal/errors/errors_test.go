package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesClassificationFromCode(t *testing.T) {
	cases := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeEmptyQuery, CategoryInput, SeverityError, false},
		{ErrCodeInvalidWeight, CategoryInput, SeverityError, false},
		{ErrCodeStoreUnavailable, CategoryStore, SeverityFatal, false},
		{ErrCodeStoreCorrupt, CategoryStore, SeverityFatal, false},
		{ErrCodeDocumentMissing, CategoryStore, SeverityWarning, false},
		{ErrCodeEmbedderUnavailable, CategoryCapability, SeverityWarning, true},
		{ErrCodePathTimeout, CategoryTimeout, SeverityWarning, true},
		{ErrCodeQueryTimeout, CategoryTimeout, SeverityWarning, true},
		{ErrCodeDimensionMismatch, CategoryConsistency, SeverityWarning, false},
		{ErrCodeDanglingCandidate, CategoryConsistency, SeverityWarning, false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			e := New(tc.code, "message", nil)
			assert.Equal(t, tc.category, e.Category)
			assert.Equal(t, tc.severity, e.Severity)
			assert.Equal(t, tc.retryable, e.Retryable)
		})
	}
}

func TestErrorString(t *testing.T) {
	e := New(ErrCodeDocumentMissing, "document doc-1 not found", nil)
	assert.Equal(t, "[ERR_203_DOCUMENT_MISSING] document doc-1 not found", e.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	e := New(ErrCodeDocumentMissing, "doc-1 not found", nil)
	assert.True(t, stderrors.Is(e, New(ErrCodeDocumentMissing, "", nil)))
	assert.False(t, stderrors.Is(e, New(ErrCodeStoreCorrupt, "", nil)))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	e := New(ErrCodeStoreUnavailable, "write failed", cause)
	assert.True(t, stderrors.Is(e, cause))
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeStoreUnavailable, nil))

	cause := stderrors.New("locked")
	e := Wrap(ErrCodeStoreUnavailable, cause)
	require.NotNil(t, e)
	assert.Equal(t, "locked", e.Message)
	assert.Same(t, cause, e.Cause)
}

func TestWithDetail(t *testing.T) {
	e := New(ErrCodeDimensionMismatch, "mismatch", nil).
		WithDetail("expected", "256").
		WithDetail("got", "128")
	assert.Equal(t, "256", e.Details["expected"])
	assert.Equal(t, "128", e.Details["got"])
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeStoreUnavailable, "down", nil)))
	assert.False(t, IsFatal(New(ErrCodePathTimeout, "slow", nil)))
	assert.False(t, IsFatal(stderrors.New("plain")))
	assert.False(t, IsFatal(nil))

	// Fatality survives wrapping in plain errors.
	wrapped := fmt.Errorf("query failed: %w", StoreUnavailable("db gone", nil))
	assert.True(t, IsFatal(wrapped))
}

func TestAsCoreError(t *testing.T) {
	assert.Nil(t, AsCoreError(nil))
	assert.Nil(t, AsCoreError(stderrors.New("plain")))

	inner := DimensionMismatch(256, 128)
	wrapped := fmt.Errorf("outer: %w", inner)
	got := AsCoreError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeDimensionMismatch, got.Code)
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, CategoryInput, Input("bad").Category)
	assert.Equal(t, ErrCodeEmbedderUnavailable,
		CapabilityUnavailable(ErrCodeEmbedderUnavailable, "embedder", nil).Code)
	assert.Contains(t, DimensionMismatch(256, 128).Message, "expected 256")
	assert.Contains(t, PathTimeout("semantic").Message, "semantic")
}
