// Package tools tests for the Executor and error taxonomy.
package tools

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// EXECUTOR TESTS
// =============================================================================

func TestNewExecutor(t *testing.T) {
	executor := NewExecutor(0, nil)

	assert.NotNil(t, executor)
	assert.Empty(t, executor.List())
}

func TestRegisterValidation(t *testing.T) {
	executor := NewExecutor(0, nil)

	err := executor.Register(&Definition{
		Name:    "",
		Handler: func(context.Context, map[string]any) (map[string]any, error) { return nil, nil },
	})
	assert.Error(t, err)

	err = executor.Register(&Definition{Name: "no_handler"})
	assert.Error(t, err)

	err = executor.Register(&Definition{
		Name:        "ok",
		Description: "A test tool",
		Handler:     func(context.Context, map[string]any) (map[string]any, error) { return map[string]any{}, nil },
	})
	require.NoError(t, err)
	assert.True(t, executor.Has("ok"))
	assert.Contains(t, executor.List(), "ok")
}

func TestInvokeUnknownToolIsNotFound(t *testing.T) {
	executor := NewExecutor(0, nil)

	_, err := executor.Invoke(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvokeReturnsHandlerResult(t *testing.T) {
	executor := NewExecutor(0, nil)
	require.NoError(t, executor.Register(&Definition{
		Name: "echo",
		Handler: func(_ context.Context, params map[string]any) (map[string]any, error) {
			return map[string]any{"echo": params["in"]}, nil
		},
	}))

	result, err := executor.Invoke(context.Background(), "echo", map[string]any{"in": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result["echo"])
}

func TestInvokeTimeoutIsTransport(t *testing.T) {
	executor := NewExecutor(10*time.Millisecond, nil)
	require.NoError(t, executor.Register(&Definition{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			select {
			case <-time.After(time.Second):
				return map[string]any{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	_, err := executor.Invoke(context.Background(), "slow", nil)
	require.Error(t, err)
	assert.Equal(t, "transport", Kind(err))
}

// =============================================================================
// ERROR TAXONOMY TESTS
// =============================================================================

func TestKindClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"not_found", fmt.Errorf("wrap: %w", ErrNotFound), "not_found"},
		{"transport", fmt.Errorf("wrap: %w", ErrTransport), "transport"},
		{"deadline", context.DeadlineExceeded, "transport"},
		{"cancelled", context.Canceled, "transport"},
		{"malformed", fmt.Errorf("wrap: %w", ErrMalformedResult), "malformed_result"},
		{"other", errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.err))
		})
	}
}
