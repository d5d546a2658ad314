package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"wrapped transient", fmt.Errorf("call failed: %w", NewTransientError(errors.New("overloaded"), 529)), true},
		{"connection reset syscall", syscall.ECONNRESET, true},
		{"broken pipe message", errors.New("write: broken pipe"), true},
		{"io timeout message", errors.New("read tcp: i/o timeout"), true},
		{"plain error", errors.New("invalid request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"connection refused syscall", syscall.ECONNREFUSED, true},
		{"connection refused message", errors.New("dial tcp 10.0.0.1:5432: connection refused"), true},
		{"closed pool", errors.New("pgxpool: closed pool"), true},
		{"database closed", errors.New("sql: database is closed"), true},
		{"conn closed", errors.New("conn closed"), true},
		{"unique violation is not unavailable", errors.New("duplicate key value violates unique constraint"), false},
		{"plain statement error", errors.New("syntax error at or near SELECT"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsUnavailable(tt.err))
		})
	}
}
