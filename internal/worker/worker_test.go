package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 20 * time.Second},
		{1, 20 * time.Second},
		{2, 40 * time.Second},
		{3, 80 * time.Second},
		{4, 160 * time.Second},
		{10, 10240 * time.Second},
		{11, 5 * time.Hour},
		{200, 5 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.NextDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicyDefaults(t *testing.T) {
	var policy RetryPolicy
	assert.Equal(t, 20*time.Second, policy.NextDelay(1))
	assert.Equal(t, 40*time.Second, policy.NextDelay(2))
}

func TestRetryPolicyExhausted(t *testing.T) {
	assert.False(t, RetryPolicy{}.Exhausted(1000), "zero MaxRetries never exhausts")

	p := RetryPolicy{MaxRetries: 2}
	assert.False(t, p.Exhausted(0))
	assert.False(t, p.Exhausted(1))
	assert.True(t, p.Exhausted(2))
}
