package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, CodeOf(NotFound("workflow", "wf-1")))
	assert.Equal(t, ErrCodeValidation, CodeOf(InvalidInput("entity_id", "required")))
	assert.Equal(t, ErrCodeUnauthorized, CodeOf(Unauthorized("not your turn")))
	assert.Equal(t, ErrCodeInternal, CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrCodeInternal, CodeOf(nil))
}

func TestWrapPreservesChain(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, ErrCodeInternal, "failed to save workflow")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to save workflow")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestCodeSurvivesWrapping(t *testing.T) {
	inner := New(ErrCodeConflict, "step already decided")
	outer := fmt.Errorf("approve failed: %w", inner)

	assert.True(t, IsCode(outer, ErrCodeConflict))
	assert.False(t, IsCode(outer, ErrCodeNotFound))
}
