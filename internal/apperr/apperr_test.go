package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := NotFound("item", "abc")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrForbidden))

	wrapped := fmt.Errorf("loading: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
}

func TestInvalidTransition_CarriesStates(t *testing.T) {
	err := InvalidTransition("open", "resolved")
	assert.Equal(t, "open", err.Metadata["current"])
	assert.Equal(t, "resolved", err.Metadata["target"])
	assert.Contains(t, err.Error(), "open")
	assert.Contains(t, err.Error(), "resolved")
}

func TestAs_WrapsForeignErrors(t *testing.T) {
	assert.Nil(t, As(nil))

	e := As(errors.New("disk on fire"))
	require.NotNil(t, e)
	assert.Equal(t, CodeInternal, e.Code)
	assert.EqualError(t, e.Cause, "disk on fire")

	v := Validation("title is required")
	assert.Same(t, v, As(v))
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeValidation, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeForbidden, http.StatusForbidden},
		{CodeInvalidTransition, http.StatusConflict},
		{CodeClosed, http.StatusGone},
		{CodeInternal, http.StatusInternalServerError},
		{Code("bogus"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.HTTPStatus(), "code %s", tt.code)
	}
}
