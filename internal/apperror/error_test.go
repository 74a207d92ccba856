package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewUsesCatalogMessage(t *testing.T) {
	err := New(CodeOrderTimeout, WithContextf("leg %d", 2))

	assert.Equal(t, CodeOrderTimeout, err.Code)
	assert.Equal(t, "Order fill not observed before timeout", err.Message)
	assert.Equal(t, "leg 2", err.Context)
	assert.Equal(t, http.StatusServiceUnavailable, err.StatusCode)
	assert.Contains(t, err.Error(), "ORDER_TIMEOUT")
}

func TestIsMatchesByCodeThroughWrapping(t *testing.T) {
	base := New(CodeSlippageExceeded)
	wrapped := fmt.Errorf("leg 1: %w", base)

	assert.True(t, errors.Is(wrapped, &AppError{Code: CodeSlippageExceeded}))
	assert.False(t, errors.Is(wrapped, &AppError{Code: CodeOrderRejected}))
	assert.True(t, HasCode(wrapped, CodeOrderRejected, CodeSlippageExceeded))
	assert.Equal(t, CodeSlippageExceeded, GetCode(wrapped))
}

func TestWrapKeepsExistingAppError(t *testing.T) {
	orig := New(CodeDataUnavailable)
	got := Wrap(orig, CodeInternalError, "scan")

	assert.NotSame(t, orig, got)
	assert.Equal(t, CodeDataUnavailable, got.Code)
	assert.Equal(t, "scan", got.Context)
	assert.Empty(t, orig.Context, "the wrapped error is left untouched")
	assert.ErrorIs(t, got, orig)

	assert.Same(t, got, Wrap(got, CodeInternalError, "again"))
	assert.Equal(t, "scan", got.Context)
	assert.Nil(t, Wrap(nil, CodeInternalError, "x"))

	plain := errors.New("boom")
	wrapped := Wrap(plain, CodeStorageError, "save")
	assert.Equal(t, CodeStorageError, wrapped.Code)
	assert.ErrorIs(t, wrapped, plain)
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(New(CodeInvalidTradeSize, WithContext("amount 10"))))
	assert.True(t, IsValidation(New(CodeInvalidPath)))
	assert.False(t, IsValidation(New(CodeDataUnavailable)))
	assert.Equal(t, CodeUnknownError, GetCode(errors.New("plain")))
}
