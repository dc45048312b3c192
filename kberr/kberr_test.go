package kberr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := New(KindValidation, "file %s too large", "big.pdf")
	assert.Equal(t, "validation: file big.pdf too large", err.Error())

	wrapped := Wrap(KindStorage, errors.New("connection reset"), "insert chunk %d", 3)
	assert.Equal(t, "storage: insert chunk 3: connection reset", wrapped.Error())
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindEmbedding, cause, "embed text")

	assert.True(t, errors.Is(err, cause))
}

func TestIsMatchesByKind(t *testing.T) {
	err := New(KindParse, "bad json")

	assert.True(t, errors.Is(err, Parse("")))
	assert.False(t, errors.Is(err, Validation("")))
	assert.True(t, errors.Is(err, Parse("bad json")))
	assert.False(t, errors.Is(err, Parse("different message")))
}

func TestIsKindSeesThroughWrapping(t *testing.T) {
	inner := New(KindRetrieval, "search failed")
	outer := fmt.Errorf("chat turn: %w", inner)

	assert.True(t, IsKind(outer, KindRetrieval))
	assert.False(t, IsKind(outer, KindStorage))
	assert.False(t, IsKind(errors.New("plain"), KindRetrieval))
}

func TestKindStrings(t *testing.T) {
	require.Equal(t, "validation", KindValidation.String())
	require.Equal(t, "config", KindConfig.String())
	require.Equal(t, "unknown", Kind(99).String())
}
