// Package enrich attaches live operational state to discovered resources.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/yairfalse/kartta/internal/account"
	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/pkg/resource"
)

var errNotFound = errors.New("resource not found")

// Enricher describes one resource type through the provider API and
// writes State, Health, IsActive, metrics and details onto r.
type Enricher interface {
	Enrich(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error
}

// EnricherFunc adapts a function to Enricher.
type EnricherFunc func(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error

// Enrich calls f.
func (f EnricherFunc) Enrich(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	return f(ctx, c, r)
}

// ClientFactory builds the describe clients for one account and region.
type ClientFactory interface {
	Enrichment(ctx context.Context, creds account.Credentials, region string) (*awsprov.Clients, error)
}

// Options bounds enrichment work.
type Options struct {
	Concurrency int
	CallTimeout time.Duration
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{Concurrency: 4, CallTimeout: 20 * time.Second}
}

// Engine dispatches resources to the enricher registered for their type.
type Engine struct {
	factory   ClientFactory
	opts      Options
	enrichers map[string]Enricher
	now       func() time.Time
}

// New creates an engine with every built-in enricher registered.
func New(factory ClientFactory, opts Options) *Engine {
	e := NewEmpty(factory, opts)
	registerDefaults(e)
	return e
}

// NewEmpty creates an engine with no enrichers registered.
func NewEmpty(factory ClientFactory, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultOptions().CallTimeout
	}
	return &Engine{
		factory:   factory,
		opts:      opts,
		enrichers: make(map[string]Enricher),
		now:       time.Now,
	}
}

// Register sets the enricher for a canonical type, replacing any existing one.
func (e *Engine) Register(resourceType string, en Enricher) {
	e.enrichers[resourceType] = en
}

// Supports reports whether resourceType has a registered enricher.
func (e *Engine) Supports(resourceType string) bool {
	_, ok := e.enrichers[resourceType]
	return ok
}

// EnrichAll enriches resources in place and returns the number that failed.
// A failure marks only the affected resource; the rest continue.
func (e *Engine) EnrichAll(ctx context.Context, creds account.Credentials, resources []resource.Resource) int {
	byRegion := make(map[string][]int)
	for i := range resources {
		byRegion[resources[i].Region] = append(byRegion[resources[i].Region], i)
	}

	regions := make([]string, 0, len(byRegion))
	for region := range byRegion {
		regions = append(regions, region)
	}
	slices.Sort(regions)

	var failures atomic.Int64
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			failures.Add(int64(e.markUnreached(resources, byRegion[region], err)))
			continue
		}
		failures.Add(int64(e.enrichRegion(ctx, creds, region, resources, byRegion[region])))
	}
	return int(failures.Load())
}

// markUnreached settles resources whose region was never enriched: types
// without an enricher get the default, the rest are marked as failed.
func (e *Engine) markUnreached(resources []resource.Resource, idx []int, cause error) int {
	failed := 0
	for _, i := range idx {
		r := &resources[i]
		if !e.Supports(r.Type) {
			e.applyDefault(r)
			continue
		}
		markError(r, fmt.Errorf("enrichment not attempted: %w", cause))
		failed++
	}
	return failed
}

func (e *Engine) enrichRegion(ctx context.Context, creds account.Credentials, region string, resources []resource.Resource, idx []int) int {
	clients, err := e.factory.Enrichment(ctx, creds, region)
	if err != nil {
		log.Warn().Err(err).Str("account_name", creds.Name).Str("region", region).Msg("enrichment clients unavailable")
		return e.markUnreached(resources, idx, fmt.Errorf("create clients: %w", err))
	}

	var failures atomic.Int64
	p := pool.New().WithMaxGoroutines(e.opts.Concurrency)
	for _, i := range idx {
		r := &resources[i]
		p.Go(func() {
			if err := e.enrichOne(ctx, clients, r); err != nil {
				failures.Add(1)
			}
		})
	}
	p.Wait()
	return int(failures.Load())
}

func (e *Engine) enrichOne(ctx context.Context, clients *awsprov.Clients, r *resource.Resource) error {
	en, ok := e.enrichers[r.Type]
	if !ok {
		e.applyDefault(r)
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	if err := en.Enrich(callCtx, clients, r); err != nil {
		log.Warn().
			Err(err).
			Str("arn", r.ARN).
			Str("resource_type", r.Type).
			Msg("enrichment failed")
		markError(r, err)
		return err
	}

	e.stamp(r)
	return nil
}

// applyDefault sets the state for types without an enricher.
func (e *Engine) applyDefault(r *resource.Resource) {
	r.State = resource.StateDiscovered
	r.Health = resource.HealthUnknown
	r.IsActive = true
	e.stamp(r)
}

func (e *Engine) stamp(r *resource.Resource) {
	r.SetDetail("lastEnriched", e.now().UTC().Format(time.RFC3339))
}

func markError(r *resource.Resource, err error) {
	r.State = resource.StateError
	r.Health = resource.HealthUnknown
	r.IsActive = false
	r.StatusDetails = map[string]any{"error": err.Error()}
	r.OperationalMetrics = nil
}

// healthIf maps a predicate to healthy or unhealthy.
func healthIf(ok bool) resource.Health {
	if ok {
		return resource.HealthHealthy
	}
	return resource.HealthUnhealthy
}

// setStatus records state, activity and derived health in one step.
func setStatus(r *resource.Resource, state string, active bool) {
	if state == "" {
		state = "unknown"
	}
	r.State = state
	r.IsActive = active
	r.Health = healthIf(active)
}
