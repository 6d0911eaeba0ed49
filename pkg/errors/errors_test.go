package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneKeepsCodeAndMatches(t *testing.T) {
	err := Clone(ErrValidation, "Must be finalized before it can be approved")
	require.Equal(t, "VALIDATION_ERROR", err.Code)
	require.Equal(t, http.StatusBadRequest, err.Status)
	assert.True(t, errors.Is(err, ErrValidation))
	assert.False(t, errors.Is(err, ErrConflict))
}

func TestFromErrorWrapsPlainErrors(t *testing.T) {
	plain := fmt.Errorf("boom")
	appErr := FromError(plain)
	require.Equal(t, ErrInternal.Code, appErr.Code)
	assert.ErrorIs(t, appErr, plain)

	wrapped := fmt.Errorf("outer: %w", Clone(ErrNotFound, "appeal code MDR1 not found"))
	assert.Equal(t, ErrNotFound.Code, FromError(wrapped).Code)
}
