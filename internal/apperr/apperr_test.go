package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NotFound("credential not found"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestOperationFailedCarriesBackendMessage(t *testing.T) {
	backend := errors.New("AccessDenied: bucket policy")
	err := OperationFailed("delete object", backend)
	assert.Equal(t, "failed to delete object: AccessDenied: bucket policy", err.Error())
	assert.ErrorIs(t, err, backend)
	assert.ErrorIs(t, err, ErrOperationFailed)
}

func TestInvalidInputFormats(t *testing.T) {
	err := InvalidInput("file size %d exceeds maximum %d", 10, 5)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.Contains(t, err.Error(), "exceeds maximum 5")
}
