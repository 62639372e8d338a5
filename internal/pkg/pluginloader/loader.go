// Package pluginloader discovers plugins at boot, records them in the plugin
// registry, enforces host-version compatibility and wires every active,
// approved tenant binding into the hook registry and the plugin route table.
package pluginloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/app/repository"
	"github.com/ManuelReschke/Tenantly/internal/pkg/besteffort"
	"github.com/ManuelReschke/Tenantly/internal/pkg/hooks"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginapi"
	"github.com/ManuelReschke/Tenantly/internal/pkg/pluginruntime"
	"github.com/ManuelReschke/Tenantly/internal/pkg/sandbox"
)

var (
	ErrPluginNotFound    = errors.New("plugin not found")
	ErrPluginNotApproved = errors.New("plugin is not approved")
	ErrIncompatible      = errors.New("plugin is not compatible with this host version")
)

type Options struct {
	Dir         string
	HostVersion string

	// Sandbox configures the worker processes. Command overrides WorkerPath.
	WorkerPath     string
	Command        sandbox.CommandFunc
	StartTimeout   time.Duration
	RequestTimeout time.Duration

	// InProcessOnly skips worker processes entirely.
	InProcessOnly bool
}

// Report summarises one boot pass.
type Report struct {
	Discovered   int
	Incompatible []string
	Deactivated  int64
	Registered   int
	Skipped      int
	Failed       int
}

type instance struct {
	tenantID uint
	plugin   pluginapi.Plugin
}

type Loader struct {
	opts   Options
	repos  *repository.Repositories
	hooks  *hooks.Registry
	routes *RouteTable

	mu           sync.Mutex
	paths        map[string]string
	incompatible map[string]bool
	instances    map[string][]instance
}

func New(repos *repository.Repositories, registry *hooks.Registry, routes *RouteTable, opts Options) *Loader {
	if opts.HostVersion == "" {
		opts.HostVersion = "1.0.0"
	}
	return &Loader{
		opts:         opts,
		repos:        repos,
		hooks:        registry,
		routes:       routes,
		paths:        make(map[string]string),
		incompatible: make(map[string]bool),
		instances:    make(map[string][]instance),
	}
}

// Routes returns the route table the loader populates.
func (l *Loader) Routes() *RouteTable {
	return l.routes
}

// Load runs the full boot sequence: Sync, then RegisterBindings.
func (l *Loader) Load(ctx context.Context) (*Report, error) {
	report := &Report{}
	if err := l.Sync(ctx, report); err != nil {
		return report, err
	}
	if err := l.RegisterBindings(ctx, report); err != nil {
		return report, err
	}
	log.Infof("[PluginLoader] discovered=%d incompatible=%d deactivated=%d registered=%d skipped=%d failed=%d",
		report.Discovered, len(report.Incompatible), report.Deactivated, report.Registered, report.Skipped, report.Failed)
	return report, nil
}

// Sync scans the plugin directory, upserts every plugin into the registry
// and deactivates the bindings of incompatible plugins.
func (l *Loader) Sync(ctx context.Context, report *Report) error {
	candidates, err := Discover(l.opts.Dir)
	if err != nil {
		return err
	}

	for _, c := range candidates {
		md, err := l.extractMetadata(ctx, c)
		if err != nil {
			log.Errorf("[PluginLoader] Skipping %s: %v", c.Path, err)
			report.Failed++
			continue
		}
		if md.ID == hooks.CorePluginID {
			log.Errorf("[PluginLoader] Skipping %s: plugin id %q is reserved", c.Path, md.ID)
			report.Failed++
			continue
		}
		report.Discovered++

		manifest, err := ReadManifest(c)
		if err != nil {
			log.Warnf("[PluginLoader] Ignoring manifest of %s: %v", md.ID, err)
		}
		minCore, maxCore := md.MinCoreVersion, md.MaxCoreVersion
		if manifest != nil {
			if manifest.MinCoreVersion != "" {
				minCore = manifest.MinCoreVersion
			}
			if manifest.MaxCoreVersion != "" {
				maxCore = manifest.MaxCoreVersion
			}
		}

		row := &models.AvailablePlugin{
			ID:             md.ID,
			Name:           md.Name,
			Version:        md.Version,
			Description:    md.Description,
			MinCoreVersion: minCore,
			MaxCoreVersion: maxCore,
			SourcePath:     c.Path,
		}
		row.SetDependencyList(md.Dependencies)
		if err := l.repos.Plugin.Upsert(row); err != nil {
			log.Errorf("[PluginLoader] Failed to upsert %s: %v", md.ID, err)
			report.Failed++
			continue
		}

		l.mu.Lock()
		l.paths[md.ID] = c.Path
		l.mu.Unlock()

		compat, err := CheckCompatibility(l.opts.HostVersion, minCore, maxCore)
		if err != nil {
			return err
		}
		if compat.Compatible {
			continue
		}

		n, err := l.repos.Plugin.DeactivateForPlugin(md.ID)
		if err != nil {
			log.Errorf("[PluginLoader] Failed to deactivate %s: %v", md.ID, err)
		}
		l.mu.Lock()
		l.incompatible[md.ID] = true
		l.mu.Unlock()
		report.Incompatible = append(report.Incompatible, md.ID)
		report.Deactivated += n
		log.Warnf("[PluginLoader] %s %s is incompatible (%s), deactivated %d tenant installs", md.ID, md.Version, compat.Reason, n)
	}
	return nil
}

// RegisterBindings activates every active binding whose plugin is approved.
// Approval is checked here on every boot, not only at install time.
func (l *Loader) RegisterBindings(ctx context.Context, report *Report) error {
	bindings, err := l.repos.Plugin.ListActiveBindings()
	if err != nil {
		return fmt.Errorf("list plugin bindings: %w", err)
	}

	for _, b := range bindings {
		plugin := b.Plugin
		if plugin == nil {
			log.Warnf("[PluginLoader] Tenant %d has binding for unknown plugin %s, skipping", b.TenantID, b.PluginID)
			report.Skipped++
			continue
		}
		if !plugin.IsApproved {
			log.Warnf("[PluginLoader] Plugin %s is not approved, skipping registration for tenant %d", plugin.ID, b.TenantID)
			report.Skipped++
			continue
		}
		if l.isIncompatible(plugin.ID) {
			report.Skipped++
			continue
		}
		if err := l.activate(ctx, b.TenantID, plugin); err != nil {
			log.Errorf("[PluginLoader] Failed to register %s for tenant %d: %v", plugin.ID, b.TenantID, err)
			report.Failed++
			continue
		}
		report.Registered++
	}
	return nil
}

// Install creates or reactivates a binding and registers it immediately.
func (l *Loader) Install(ctx context.Context, tenantID uint, pluginID string) (*models.TenantPlugin, error) {
	plugin, err := l.repos.Plugin.GetByID(pluginID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, pluginID)
	}
	if err != nil {
		return nil, err
	}
	if !plugin.IsApproved {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotApproved, pluginID)
	}
	if l.isIncompatible(pluginID) {
		return nil, fmt.Errorf("%w: %s", ErrIncompatible, pluginID)
	}

	binding, err := l.repos.Plugin.InstallForTenant(tenantID, pluginID)
	if err != nil {
		return nil, err
	}
	l.stopTenantInstance(pluginID, tenantID)
	if err := l.activate(ctx, tenantID, plugin); err != nil {
		return binding, err
	}
	return binding, nil
}

// Approve marks a plugin as approved. Bindings become live on the next
// Install or boot.
func (l *Loader) Approve(pluginID string) error {
	return l.repos.Plugin.SetApproved(pluginID, true)
}

// Revoke withdraws approval and tears down every live instance of the plugin.
func (l *Loader) Revoke(pluginID string) error {
	if err := l.repos.Plugin.SetApproved(pluginID, false); err != nil {
		return err
	}
	handlers := l.hooks.RemovePlugin(pluginID)
	routes := l.routes.RemovePlugin(pluginID)

	l.mu.Lock()
	live := l.instances[pluginID]
	delete(l.instances, pluginID)
	l.mu.Unlock()

	for _, inst := range live {
		_ = inst.plugin.Stop()
	}
	log.Infof("[PluginLoader] Revoked %s: removed %d hook handlers, %d routes, stopped %d instances", pluginID, handlers, routes, len(live))
	return nil
}

// Instances returns the number of live plugin instances.
func (l *Loader) Instances() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, list := range l.instances {
		n += len(list)
	}
	return n
}

// Shutdown stops every plugin instance.
func (l *Loader) Shutdown() {
	l.mu.Lock()
	all := l.instances
	l.instances = make(map[string][]instance)
	l.mu.Unlock()

	for id, list := range all {
		l.hooks.RemovePlugin(id)
		l.routes.RemovePlugin(id)
		for _, inst := range list {
			_ = inst.plugin.Stop()
		}
	}
}

func (l *Loader) isIncompatible(pluginID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.incompatible[pluginID]
}

// activate starts a plugin for one tenant, registers it and wires its
// routes and hooks.
func (l *Loader) activate(ctx context.Context, tenantID uint, plugin *models.AvailablePlugin) error {
	path := l.pathFor(plugin)
	if path == "" {
		return fmt.Errorf("no source file for plugin %s", plugin.ID)
	}

	p, err := l.start(ctx, path, plugin.ID, &tenantID)
	if err != nil {
		return err
	}

	reg, err := p.Register(ctx, tenantID, l.registrationContext(tenantID))
	if err != nil {
		_ = p.Stop()
		return fmt.Errorf("register: %w", err)
	}

	for _, r := range reg.Routes {
		if err := p.RegisterRoute(ctx, r.Method, r.Path); err != nil {
			log.Warnf("[PluginLoader] %s rejected route %s: %v", plugin.ID, r.Key(), err)
			continue
		}
		l.routes.Add(tenantID, plugin.ID, r.Method, r.Path, p)
	}

	owner := tenantID
	for _, hook := range hookSet(reg.Hooks) {
		if err := p.RegisterHook(ctx, hook); err != nil {
			log.Warnf("[PluginLoader] %s failed to subscribe %s: %v", plugin.ID, hook, err)
			continue
		}
		l.hooks.RegisterSandboxHandler(hook, plugin.ID, p, &owner)
	}

	l.mu.Lock()
	l.instances[plugin.ID] = append(l.instances[plugin.ID], instance{tenantID: tenantID, plugin: p})
	l.mu.Unlock()

	log.Infof("[PluginLoader] Registered %s for tenant %d (%d routes)", plugin.ID, tenantID, len(reg.Routes))
	return nil
}

func (l *Loader) stopTenantInstance(pluginID string, tenantID uint) {
	l.mu.Lock()
	var keep, stop []instance
	for _, inst := range l.instances[pluginID] {
		if inst.tenantID == tenantID {
			stop = append(stop, inst)
		} else {
			keep = append(keep, inst)
		}
	}
	l.instances[pluginID] = keep
	l.mu.Unlock()

	if len(stop) == 0 {
		return
	}
	handlers := l.hooks.RemovePluginForTenant(pluginID, tenantID)
	routes := l.routes.RemovePluginForTenant(pluginID, tenantID)
	log.Infof("[PluginLoader] Replacing %s for tenant %d: removed %d hook handlers, %d routes", pluginID, tenantID, handlers, routes)
	for _, inst := range stop {
		_ = inst.plugin.Stop()
	}
}

func (l *Loader) pathFor(plugin *models.AvailablePlugin) string {
	l.mu.Lock()
	path := l.paths[plugin.ID]
	l.mu.Unlock()
	if path == "" {
		path = plugin.SourcePath
	}
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

func (l *Loader) registrationContext(tenantID uint) map[string]any {
	pctx := map[string]any{"hostVersion": l.opts.HostVersion}
	tenant, err := l.repos.Tenant.GetByID(tenantID)
	if err != nil {
		return pctx
	}
	pctx["subdomain"] = tenant.Subdomain
	pctx["plan"] = tenant.Plan
	if region := tenant.Region(); region != "" {
		pctx["region"] = region
	}
	return pctx
}

// start prefers a sandboxed worker and falls back to in-process evaluation
// when the worker cannot be started.
func (l *Loader) start(ctx context.Context, path, pluginID string, tenantID *uint) (pluginapi.Plugin, error) {
	if !l.opts.InProcessOnly {
		sb := sandbox.New(path, pluginID, sandbox.Options{
			WorkerPath:     l.opts.WorkerPath,
			Command:        l.opts.Command,
			StartTimeout:   l.opts.StartTimeout,
			RequestTimeout: l.opts.RequestTimeout,
			LogSink:        l.persistLog,
			TenantID:       tenantID,
		})
		err := sb.Start(ctx)
		if err == nil {
			return sb, nil
		}
		log.Warnf("[PluginLoader] Sandbox for %s failed to start, falling back to in-process: %v", pluginID, err)
	}
	return pluginruntime.NewInProcess(ctx, path, pluginID, l.emitter(pluginID, tenantID))
}

func (l *Loader) extractMetadata(ctx context.Context, c Candidate) (*pluginapi.Metadata, error) {
	p, err := l.start(ctx, c.Path, c.ID, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.Stop() }()

	md, err := p.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if md.ID == "" {
		md.ID = c.ID
	}
	if md.Name == "" {
		md.Name = md.ID
	}
	return md, nil
}

func (l *Loader) emitter(pluginID string, tenantID *uint) pluginruntime.Emitter {
	return pluginruntime.EmitterFuncs{
		LogFunc: func(entry pluginapi.LogEntry) {
			log.Infof("[Plugin:%s] %s: %s", pluginID, entry.Level, entry.Message)
			besteffort.Do("PluginLog", func() error {
				return l.persistLog(pluginID, tenantID, entry)
			})
		},
		HookFunc: func(hook string) {
			log.Debugf("[Plugin:%s] subscribed %s", pluginID, hook)
		},
	}
}

func (l *Loader) persistLog(pluginID string, tenantID *uint, entry pluginapi.LogEntry) error {
	return l.repos.PluginLog.Create(&models.PluginLog{
		PluginID: pluginID,
		TenantID: tenantID,
		Level:    normalizeLevel(entry.Level),
		Message:  entry.Message,
	})
}

func normalizeLevel(level string) string {
	switch level {
	case models.PluginLogDebug, models.PluginLogWarn, models.PluginLogError:
		return level
	case "warning":
		return models.PluginLogWarn
	}
	return models.PluginLogInfo
}

// hookSet merges the plugin's hooks with the domain hooks every binding
// subscribes to.
func hookSet(declared []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{declared, hooks.DomainHooks} {
		for _, h := range list {
			if h == "" || seen[h] {
				continue
			}
			seen[h] = true
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}
