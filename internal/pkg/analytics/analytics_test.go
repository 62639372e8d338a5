package analytics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/jobqueue"
	"github.com/ManuelReschke/Tenantly/internal/pkg/retry"
	"github.com/ManuelReschke/Tenantly/internal/pkg/tenantdb"
)

type flakyConns struct {
	db       *gorm.DB
	failures int
	calls    int
}

func (f *flakyConns) GetConnectionAsync(ctx context.Context, tenantID uint) (*tenantdb.Handle, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("too many connections")
	}
	return &tenantdb.Handle{DB: f.db, TenantID: tenantID}, nil
}

type memoryLogs struct{ entries []models.AnalyticsLog }

func (m *memoryLogs) Create(e *models.AnalyticsLog) error {
	m.entries = append(m.entries, *e)
	return nil
}

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "tenant.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.TenantModels()...))
	return db
}

var fastPolicy = retry.Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 3}

func TestPersist_RetriesThenSucceeds(t *testing.T) {
	db := newDB(t)
	conns := &flakyConns{db: db, failures: 2}
	logs := &memoryLogs{}

	attempts, err := NewPersister(conns, logs, fastPolicy).Persist(context.Background(), &jobqueue.AnalyticsEventPayload{
		TenantID: 1, Name: EventCheckout, Properties: map[string]interface{}{"total": 12.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	count, err := repository.NewAnalyticsEventRepository(db).CountByName(EventCheckout)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.Len(t, logs.entries, 1)
	assert.True(t, logs.entries[0].Success)
	assert.Equal(t, 3, logs.entries[0].Attempts)
}

func TestPersist_ExhaustedWritesFailureRow(t *testing.T) {
	conns := &flakyConns{db: newDB(t), failures: 10}
	logs := &memoryLogs{}
	p := NewPersister(conns, logs, fastPolicy)

	job := &jobqueue.Job{TenantID: 4, Payload: jobqueue.AnalyticsEventPayload{Name: EventPageView}.ToMap()}
	err := p.HandleJob(context.Background(), job)
	assert.ErrorIs(t, err, jobqueue.ErrPermanent)

	require.Len(t, logs.entries, 1)
	assert.False(t, logs.entries[0].Success)
	assert.Equal(t, uint(4), logs.entries[0].TenantID)
	assert.Equal(t, 3, logs.entries[0].Attempts)
	assert.Contains(t, logs.entries[0].Error, "too many connections")
}

func TestTrack(t *testing.T) {
	s := miniredis.RunT(t)
	queue := jobqueue.NewQueue(redis.NewClient(&redis.Options{Addr: s.Addr()}), 1)
	tracker := NewTracker(queue)

	require.NoError(t, tracker.Track(context.Background(), jobqueue.AnalyticsEventPayload{TenantID: 1, Name: EventProductView}))
	assert.Error(t, tracker.Track(context.Background(), jobqueue.AnalyticsEventPayload{TenantID: 1, Name: "  "}))

	s.Close()
	tracker.TrackBestEffort(context.Background(), jobqueue.AnalyticsEventPayload{TenantID: 1, Name: EventPageView})
}
