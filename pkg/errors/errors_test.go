package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRPCCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"app error wins", New(ErrLineNotFound, CodeInvalidParams, "x"), CodeInvalidParams},
		{"line not found", ErrLineNotFound, CodeInvalidRecord},
		{"wrapped invalid params", fmt.Errorf("decoding: %w", ErrInvalidParams), CodeInvalidParams},
		{"invalid request", ErrInvalidRequest, CodeInvalidRequest},
		{"method not found", ErrMethodNotFound, CodeMethodNotFound},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"unknown", errors.New("boom"), CodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RPCCode(tt.err))
		})
	}
}

func TestRPCMessageHidesInternalDetail(t *testing.T) {
	assert.Equal(t, "Internal error", RPCMessage(errors.New("db password is hunter2")))
	assert.Equal(t, "custom", RPCMessage(New(ErrInvalidParams, CodeInvalidParams, "custom")))
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrLineNotFound, CodeInvalidRecord, "line %d", 12)
	assert.ErrorIs(t, err, ErrLineNotFound)
	assert.Equal(t, "line not found: line 12", err.Error())
}
