package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pruner struct {
	cutoff time.Time
	n      int64
	err    error
}

func (p *pruner) PruneOlderThan(cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.n, p.err
}

type gauges struct{ calls int }

func (g *gauges) RefreshGauges(context.Context) error {
	g.calls++
	return errors.New("redis down")
}

func TestPruneLogsUsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 5, 31, 3, 0, 0, 0, time.UTC)
	p := &pruner{n: 12}
	s := New(p, nil, 30)
	s.now = func() time.Time { return now }

	n, err := s.PruneLogs()
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC), p.cutoff)
}

func TestPruneLogsError(t *testing.T) {
	s := New(&pruner{err: errors.New("locked")}, nil, 0)
	_, err := s.PruneLogs()
	assert.Error(t, err)
	assert.Equal(t, 24*time.Hour, s.retention)
}

func TestStartRegistersJobs(t *testing.T) {
	g := &gauges{}
	s := New(&pruner{}, g, 7)
	require.NoError(t, s.Start())
	defer s.Stop()
	assert.Len(t, s.cron.Entries(), 2)

	// failures are logged, never fatal
	s.RefreshGauges()
	assert.Equal(t, 1, g.calls)

	withoutQueue := New(&pruner{}, nil, 7)
	require.NoError(t, withoutQueue.Start())
	defer withoutQueue.Stop()
	assert.Len(t, withoutQueue.cron.Entries(), 1)
}
