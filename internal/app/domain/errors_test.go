package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError(t *testing.T) {
	err := NewError(KindValidation, "column missing")

	assert.Equal(t, KindValidation, err.Kind)
	assert.Equal(t, "validation: column missing", err.Error())
	assert.False(t, err.NotFound)
	assert.Nil(t, err.Unwrap())
}

func TestWrapErrorPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(KindIngestion, "write staging file", cause)

	assert.Equal(t, "ingestion: write staging file: disk full", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestAsErrorFindsWrappedPlatformError(t *testing.T) {
	inner := NotFoundError(KindIngestion, "source file not found")
	wrapped := fmt.Errorf("ingest stage: %w", inner)

	pe := AsError(wrapped)
	require.NotNil(t, pe)
	assert.Equal(t, KindIngestion, pe.Kind)
	assert.True(t, pe.NotFound)

	assert.Nil(t, AsError(errors.New("plain")))
	assert.Nil(t, AsError(nil))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(NotFoundError(KindVersioning, "no such commit")))
	assert.False(t, IsNotFound(NewError(KindVersioning, "bad branch")))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}

func TestKindsAreDistinct(t *testing.T) {
	kinds := []Kind{KindIngestion, KindValidation, KindVersioning, KindLedger, KindPipeline, KindAuth}

	seen := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		assert.False(t, seen[k], "duplicate kind %q", k)
		seen[k] = true
	}
}
