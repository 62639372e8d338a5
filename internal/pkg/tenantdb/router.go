// Package tenantdb hands out database handles scoped to one tenant schema,
// optionally on a region-specific physical database.
package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/database"
	"github.com/ManuelReschke/Tenantly/internal/pkg/env"
	"github.com/ManuelReschke/Tenantly/internal/pkg/metrics"
)

var (
	ErrRouterClosed        = errors.New("tenant router is shut down")
	ErrRegionLookupFailed  = errors.New("tenant lookup failed and strict region isolation is enabled")
	ErrNoRegionCredentials = errors.New("no regional database credentials configured")
)

// ConnectionConfig describes one physical connection.
type ConnectionConfig struct {
	URL        string
	SearchPath []string
	Region     string
}

// Handle is a live tenant (or regional pool) connection. Callers compare
// handles by pointer: the router returns the same *Handle until eviction.
type Handle struct {
	DB       *gorm.DB
	Config   ConnectionConfig
	TenantID uint
}

// Opener creates a database handle for a configuration.
type Opener func(cfg ConnectionConfig) (*gorm.DB, error)

// Closer releases a handle created by the Opener.
type Closer func(db *gorm.DB) error

// TenantLookup is the subset of the tenant directory the router needs.
type TenantLookup interface {
	Get(ctx context.Context, id uint) (*models.Tenant, error)
}

type Options struct {
	PrimaryURL string
	Lookup     TenantLookup
	// Opener defaults to database.Open.
	Opener Opener
	// Closer defaults to database.Close.
	Closer Closer
	// RegionURL defaults to env.RegionDatabaseURL.
	RegionURL func(region string) string
	// StrictRegionIsolation makes the async path fail instead of falling back
	// to the primary database when the tenant record cannot be read.
	StrictRegionIsolation bool
}

// Router caches one handle per tenant and one pool per region. Entries are
// only removed by EvictTenant, EvictRegion or Shutdown.
type Router struct {
	opts Options

	mu      sync.Mutex
	tenants map[uint]*Handle
	regions map[string]*Handle
	closed  bool

	group singleflight.Group
}

func NewRouter(opts Options) *Router {
	if opts.Opener == nil {
		opts.Opener = func(cfg ConnectionConfig) (*gorm.DB, error) {
			return database.Open(cfg.URL, cfg.SearchPath)
		}
	}
	if opts.Closer == nil {
		opts.Closer = database.Close
	}
	if opts.RegionURL == nil {
		opts.RegionURL = env.RegionDatabaseURL
	}
	return &Router{
		opts:    opts,
		tenants: make(map[uint]*Handle),
		regions: make(map[string]*Handle),
	}
}

// SearchPath is the schema search order for a tenant.
func SearchPath(tenantID uint) []string {
	return SearchPathFor(models.TenantSchemaName(tenantID))
}

// SearchPathFor puts schema ahead of the shared public schema.
func SearchPathFor(schema string) []string {
	return []string{schema, "public"}
}

// GetConnection returns the cached handle for tenantID, or opens one against
// the primary database. It never reads tenant metadata.
func (r *Router) GetConnection(tenantID uint) (*Handle, error) {
	if h, err := r.cached(tenantID); h != nil || err != nil {
		return h, err
	}
	return r.openTenant(tenantID, ConnectionConfig{
		URL:        r.opts.PrimaryURL,
		SearchPath: SearchPath(tenantID),
	})
}

// GetConnectionAsync honours the tenant's residency region. A failed tenant
// lookup falls back to the primary database unless strict isolation is on.
//
// The regional pool is resolved once per region and shared by provisioning.
// Tenant handles open their own pool against its URL because search_path is
// fixed per connection in the DSN, so one pool cannot serve two schemas.
func (r *Router) GetConnectionAsync(ctx context.Context, tenantID uint) (*Handle, error) {
	if h, err := r.cached(tenantID); h != nil || err != nil {
		return h, err
	}

	cfg := ConnectionConfig{URL: r.opts.PrimaryURL, SearchPath: SearchPath(tenantID)}

	tenant, err := r.lookup(ctx, tenantID)
	switch {
	case err != nil:
		if r.opts.StrictRegionIsolation {
			return nil, fmt.Errorf("%w: tenant %d: %v", ErrRegionLookupFailed, tenantID, err)
		}
		log.Warnf("[TenantRouter] Tenant %d lookup failed, using primary database: %v", tenantID, err)
		metrics.RegionFallbacks.WithLabelValues("lookup_failed").Inc()

	case tenant.Region() != "":
		pool, err := r.RegionPool(tenant.Region())
		switch {
		case errors.Is(err, ErrNoRegionCredentials):
			log.Infof("[TenantRouter] No credentials for region %s, tenant %d uses primary database", tenant.Region(), tenantID)
			metrics.RegionFallbacks.WithLabelValues("no_regional_credential").Inc()
		case err != nil:
			return nil, err
		default:
			cfg.URL = pool.Config.URL
			cfg.Region = pool.Config.Region
		}
	}

	return r.openTenant(tenantID, cfg)
}

// RegionPool returns the shared pool for a region, opening it on first use.
// Tenant handles in the region are opened against the same connection string.
// The empty region is the primary database.
func (r *Router) RegionPool(region string) (*Handle, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRouterClosed
	}
	if h, ok := r.regions[region]; ok {
		r.mu.Unlock()
		return h, nil
	}
	r.mu.Unlock()

	url := r.opts.PrimaryURL
	if region != "" {
		url = r.opts.RegionURL(region)
	}
	if url == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRegionCredentials, region)
	}

	v, err, _ := r.group.Do("region:"+region, func() (interface{}, error) {
		r.mu.Lock()
		if h, ok := r.regions[region]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		cfg := ConnectionConfig{URL: url, Region: region}
		db, err := r.opts.Opener(cfg)
		if err != nil {
			return nil, fmt.Errorf("open region %s pool: %w", region, err)
		}
		h := &Handle{DB: db, Config: cfg}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = r.opts.Closer(db)
			return nil, ErrRouterClosed
		}
		r.regions[region] = h
		metrics.RegionPoolsCached.Set(float64(len(r.regions)))
		log.Infof("[TenantRouter] Opened pool for region %s", region)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// PoolFor returns the pool serving tenants of region: the regional pool when
// credentials exist, otherwise the primary one.
func (r *Router) PoolFor(region string) (*Handle, error) {
	if region != "" {
		h, err := r.RegionPool(region)
		if !errors.Is(err, ErrNoRegionCredentials) {
			return h, err
		}
	}
	return r.RegionPool("")
}

// EvictTenant closes and forgets the tenant's handle. The next call opens a
// fresh one.
func (r *Router) EvictTenant(tenantID uint) error {
	r.mu.Lock()
	h, ok := r.tenants[tenantID]
	if ok {
		delete(r.tenants, tenantID)
		metrics.TenantHandlesCached.Set(float64(len(r.tenants)))
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	log.Infof("[TenantRouter] Evicting connection for tenant %d", tenantID)
	return r.opts.Closer(h.DB)
}

// EvictRegion closes the regional pool and every tenant handle opened in that
// region.
func (r *Router) EvictRegion(region string) error {
	r.mu.Lock()
	var victims []*Handle
	if h, ok := r.regions[region]; ok {
		victims = append(victims, h)
		delete(r.regions, region)
	}
	for id, h := range r.tenants {
		if h.Config.Region == region && region != "" {
			victims = append(victims, h)
			delete(r.tenants, id)
		}
	}
	metrics.RegionPoolsCached.Set(float64(len(r.regions)))
	metrics.TenantHandlesCached.Set(float64(len(r.tenants)))
	r.mu.Unlock()

	if len(victims) > 0 {
		log.Infof("[TenantRouter] Evicting region %s (%d handles)", region, len(victims))
	}
	return r.closeAll(victims)
}

// Shutdown closes every cached handle. The router rejects calls afterwards.
func (r *Router) Shutdown() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	victims := make([]*Handle, 0, len(r.tenants)+len(r.regions))
	for _, h := range r.tenants {
		victims = append(victims, h)
	}
	for _, h := range r.regions {
		victims = append(victims, h)
	}
	r.tenants = make(map[uint]*Handle)
	r.regions = make(map[string]*Handle)
	metrics.RegionPoolsCached.Set(0)
	metrics.TenantHandlesCached.Set(0)
	r.mu.Unlock()

	log.Infof("[TenantRouter] Shutting down, closing %d handles", len(victims))
	return r.closeAll(victims)
}

// Stats reports the number of cached tenant handles and regional pools.
func (r *Router) Stats() (tenants, regions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tenants), len(r.regions)
}

func (r *Router) cached(tenantID uint) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRouterClosed
	}
	return r.tenants[tenantID], nil
}

func (r *Router) lookup(ctx context.Context, tenantID uint) (*models.Tenant, error) {
	if r.opts.Lookup == nil {
		return nil, errors.New("no tenant lookup configured")
	}
	return r.opts.Lookup.Get(ctx, tenantID)
}

func (r *Router) openTenant(tenantID uint, cfg ConnectionConfig) (*Handle, error) {
	key := "tenant:" + strconv.FormatUint(uint64(tenantID), 10)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if h, err := r.cached(tenantID); h != nil || err != nil {
			return h, err
		}

		db, err := r.opts.Opener(cfg)
		if err != nil {
			return nil, fmt.Errorf("open connection for tenant %d: %w", tenantID, err)
		}
		h := &Handle{DB: db, Config: cfg, TenantID: tenantID}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = r.opts.Closer(db)
			return nil, ErrRouterClosed
		}
		r.tenants[tenantID] = h
		metrics.TenantHandlesCached.Set(float64(len(r.tenants)))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (r *Router) closeAll(handles []*Handle) error {
	var errs []error
	for _, h := range handles {
		if err := r.opts.Closer(h.DB); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
