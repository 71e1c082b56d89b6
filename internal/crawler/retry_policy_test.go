package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, time.Millisecond, 10*time.Millisecond)
	tests := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, attempt: 0, want: false},
		{name: "generic error", err: errors.New("reset"), attempt: 0, want: true},
		{name: "attempts exhausted", err: errors.New("reset"), attempt: 2, want: false},
		{name: "canceled", err: fmt.Errorf("fetch: %w", context.Canceled), attempt: 0, want: false},
		{name: "rate limited", err: &StatusError{Code: http.StatusTooManyRequests}, attempt: 1, want: true},
		{name: "server error", err: &StatusError{Code: http.StatusBadGateway}, attempt: 0, want: true},
		{name: "not found", err: &StatusError{Code: http.StatusNotFound}, attempt: 0, want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestRetryPolicyBackoffBounded(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 0; attempt < 6; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestTaskQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Dune Frank Herbert", Task{Title: "Dune", Author: "Frank Herbert"}.Query())
	assert.Equal(t, "Dune", Task{Title: "Dune"}.Query())
	row := NotFoundRow(Task{Index: 4, Title: "Dune", Author: "Frank Herbert"})
	assert.Equal(t, StatusNotFound, row.Status)
	assert.Equal(t, "Dune", row.Title)
}
