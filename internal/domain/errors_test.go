package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderError(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("embed chunk: %w", &ProviderError{Provider: "openai", Err: cause})

	assert.ErrorIs(t, err, ErrProvider)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "embed chunk: openai: connection refused", err.Error())

	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
	assert.Zero(t, pe.Status)
}

func TestProviderError_WithStatus(t *testing.T) {
	err := &ProviderError{Provider: "qdrant", Status: 503, Err: errors.New("unavailable")}
	assert.Equal(t, "qdrant: status 503: unavailable", err.Error())
	assert.ErrorIs(t, err, ErrProvider)
}
