package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelaySchedule(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxAttempts: 6}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{9, 10 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, MaxAttempts: 5}

	var seen []int
	attempts, err := p.Do(context.Background(), func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errors.New("unavailable")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestDoExhausts(t *testing.T) {
	p := Policy{BaseDelay: time.Millisecond, MaxAttempts: 3}
	boom := errors.New("boom")

	attempts, err := p.Do(context.Background(), func(int) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestDoStopsOnCancel(t *testing.T) {
	p := Policy{BaseDelay: time.Hour, MaxAttempts: 3}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := p.Do(ctx, func(int) error { return errors.New("fail") })
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
