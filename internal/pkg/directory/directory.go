// Package directory resolves tenants by id or subdomain. Lookups are memoized
// in process for a short time and passed through a Redis TTL cache before
// falling back to the tenants table.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
)

var ErrTenantNotFound = errors.New("tenant not found")

const (
	keyByID        = "tenantly:tenant:id:"
	keyBySubdomain = "tenantly:tenant:sub:"
)

type memoEntry struct {
	tenant  models.Tenant
	expires time.Time
}

// Directory is safe for concurrent use.
type Directory struct {
	repo    repository.TenantRepository
	rdb     *redis.Client
	ttl     time.Duration
	memoTTL time.Duration

	mu    sync.RWMutex
	byID  map[uint]memoEntry
	bySub map[string]uint
}

// New creates a directory. rdb may be nil, which disables the Redis layer.
func New(repo repository.TenantRepository, rdb *redis.Client, ttl time.Duration) *Directory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Directory{
		repo:    repo,
		rdb:     rdb,
		ttl:     ttl,
		memoTTL: 30 * time.Second,
		byID:    make(map[uint]memoEntry),
		bySub:   make(map[string]uint),
	}
}

// Get returns the tenant with the given id.
func (d *Directory) Get(ctx context.Context, id uint) (*models.Tenant, error) {
	if t, ok := d.memoByID(id); ok {
		return t, nil
	}
	if t, ok := d.fromRedis(ctx, keyByID+strconv.FormatUint(uint64(id), 10)); ok {
		d.remember(t)
		return t, nil
	}

	t, err := d.repo.GetByID(id)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("id %d", id))
	}
	d.store(ctx, t)
	return t, nil
}

// Lookup returns the tenant owning subdomain.
func (d *Directory) Lookup(ctx context.Context, subdomain string) (*models.Tenant, error) {
	subdomain = strings.ToLower(strings.TrimSpace(subdomain))
	if subdomain == "" {
		return nil, ErrTenantNotFound
	}

	d.mu.RLock()
	id, ok := d.bySub[subdomain]
	d.mu.RUnlock()
	if ok {
		if t, ok := d.memoByID(id); ok {
			return t, nil
		}
	}
	if t, ok := d.fromRedis(ctx, keyBySubdomain+subdomain); ok {
		d.remember(t)
		return t, nil
	}

	t, err := d.repo.GetBySubdomain(subdomain)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("subdomain %q", subdomain))
	}
	d.store(ctx, t)
	return t, nil
}

// Resolve accepts either a numeric tenant id or a subdomain, as sent in the
// X-Tenant-ID header.
func (d *Directory) Resolve(ctx context.Context, key string) (*models.Tenant, error) {
	key = strings.TrimSpace(key)
	if id, err := strconv.ParseUint(key, 10, 64); err == nil {
		return d.Get(ctx, uint(id))
	}
	return d.Lookup(ctx, key)
}

// Invalidate drops every cached copy of the tenant. Call it after status,
// plan or region changes.
func (d *Directory) Invalidate(ctx context.Context, t *models.Tenant) {
	d.mu.Lock()
	delete(d.byID, t.ID)
	delete(d.bySub, t.Subdomain)
	d.mu.Unlock()

	if d.rdb == nil {
		return
	}
	keys := []string{keyByID + strconv.FormatUint(uint64(t.ID), 10), keyBySubdomain + t.Subdomain}
	if err := d.rdb.Del(ctx, keys...).Err(); err != nil {
		log.Warnf("[Directory] Failed to invalidate tenant %d in redis: %v", t.ID, err)
	}
}

func (d *Directory) memoByID(id uint) (*models.Tenant, bool) {
	d.mu.RLock()
	e, ok := d.byID[id]
	d.mu.RUnlock()
	if !ok || time.Now().After(e.expires) {
		return nil, false
	}
	t := e.tenant
	return &t, true
}

func (d *Directory) remember(t *models.Tenant) {
	d.mu.Lock()
	d.byID[t.ID] = memoEntry{tenant: *t, expires: time.Now().Add(d.memoTTL)}
	d.bySub[t.Subdomain] = t.ID
	d.mu.Unlock()
}

func (d *Directory) fromRedis(ctx context.Context, key string) (*models.Tenant, bool) {
	if d.rdb == nil {
		return nil, false
	}
	raw, err := d.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("[Directory] Redis read failed for %s: %v", key, err)
		}
		return nil, false
	}
	var t models.Tenant
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, false
	}
	return &t, true
}

func (d *Directory) store(ctx context.Context, t *models.Tenant) {
	d.remember(t)
	if d.rdb == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	pipe := d.rdb.Pipeline()
	pipe.Set(ctx, keyByID+strconv.FormatUint(uint64(t.ID), 10), raw, d.ttl)
	pipe.Set(ctx, keyBySubdomain+t.Subdomain, raw, d.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[Directory] Redis write failed for tenant %d: %v", t.ID, err)
	}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", ErrTenantNotFound, what)
	}
	return fmt.Errorf("tenant lookup %s: %w", what, err)
}
