package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_Error(t *testing.T) {
	assert.Equal(t, "[TH-TEST-4000] msg", NewDomainError("TH-TEST-4000", "msg").Error())
	assert.Equal(t, "[TH-TEST-4000] msg: more", NewDomainError("TH-TEST-4000", "msg").WithDetails("more").Error())
}

func TestDomainError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("call: %w", ErrToolFailed.WithCause(cause).WithDetails("echo"))

	assert.ErrorIs(t, err, ErrToolFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrToolNotFound)
	assert.True(t, IsDomainError(err, ""))
	assert.True(t, IsDomainError(err, "TH-TOOL-5000"))
	assert.False(t, IsDomainError(cause, ""))
	assert.Equal(t, "TH-TOOL-5000", GetErrorCode(err))
	assert.Empty(t, GetErrorCode(cause))
}

func TestDomainError_HTTPStatus(t *testing.T) {
	tests := map[*DomainError]int{
		ErrSessionNotFound:                404,
		ErrSessionExpired:                 404,
		ErrSessionMissing:                 400,
		ErrDuplicateTool:                  409,
		ErrRateLimited:                    429,
		ErrServiceUnavailable:             503,
		ErrInvalidArgument:                400,
		NewDomainError("TH-X-12", "short"): 500,
		NewDomainError("TH-X-ABCD", "nan"): 500,
		NewDomainError("TH-X-2000", "ok?"): 500,
	}
	for err, want := range tests {
		assert.Equal(t, want, err.HTTPStatus(), err.Code)
	}
}
