package utils

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorToHTTPStatus(t *testing.T) {
	cases := map[string]int{
		ErrNotFound:           http.StatusNotFound,
		ErrInvalidInput:       http.StatusBadRequest,
		ErrUnauthenticated:    http.StatusUnauthorized,
		ErrPermissionDenied:   http.StatusForbidden,
		ErrDuplicate:          http.StatusConflict,
		ErrTooManyRequests:    http.StatusTooManyRequests,
		ErrTransactionFailure: http.StatusServiceUnavailable,
		ErrDecode:             http.StatusInternalServerError,
		"SOMETHING_ELSE":      http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, AppErrorToHTTPStatus(code), code)
	}
}

func TestHTTPStatusRoundTrip(t *testing.T) {
	for _, code := range []string{ErrNotFound, ErrInvalidInput, ErrUnauthenticated, ErrPermissionDenied, ErrDuplicate, ErrTransactionFailure} {
		assert.Equal(t, code, HTTPStatusToCode(AppErrorToHTTPStatus(code)))
	}
}

func TestAsAppErrorUnwraps(t *testing.T) {
	base := NewPermissionDeniedError("not the author")
	wrapped := fmt.Errorf("edit comment: %w", base)

	assert.True(t, IsErrorCode(wrapped, ErrPermissionDenied))
	assert.True(t, IsAuthError(wrapped))
	assert.Same(t, base, AsAppError(wrapped))

	plain := AsAppError(errors.New("boom"))
	assert.Equal(t, ErrInternal, plain.Code)
	assert.Nil(t, AsAppError(nil))
}

func TestAppErrorMessageIncludesOrigin(t *testing.T) {
	err := NewAppError(ErrTransactionFailure, "failed to commit like", errors.New("connection reset"))
	assert.Equal(t, "failed to commit like: connection reset", err.Error())
	assert.True(t, errors.Is(err, err.Origin))
}
