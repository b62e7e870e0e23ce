package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{JobStatusPending, JobStatusProcessing, true},
		{JobStatusProcessing, JobStatusCompleted, true},
		{JobStatusProcessing, JobStatusFailed, true},
		{JobStatusFailed, JobStatusPending, true},
		{JobStatusCompleted, JobStatusPending, false},
		{JobStatusCompleted, JobStatusFailed, false},
		{JobStatusPending, JobStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("interpret: %w", ErrMissingURL)))
	assert.True(t, IsPermanent(NewPermanentError(errors.New("bad task"))))
	assert.False(t, IsPermanent(NewRetryableError(errors.New("backend down"))))
	assert.False(t, IsPermanent(errors.New("unknown")))
}

func TestUsage_Add(t *testing.T) {
	u := Usage{Component: "planner", InputTokens: 10, OutputTokens: 5, TotalTokens: 15, CostUSD: 0.1}
	u.Add(Usage{Component: "other", InputTokens: 1, OutputTokens: 2, TotalTokens: 3, CostUSD: 0.05})

	assert.Equal(t, "planner", u.Component)
	assert.Equal(t, int64(11), u.InputTokens)
	assert.Equal(t, int64(18), u.TotalTokens)
	assert.InDelta(t, 0.15, u.CostUSD, 1e-9)
}
