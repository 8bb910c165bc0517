// Package discovery fans tag searches out across accounts and regions and
// reconciles the results into the inventory.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/internal/filter"
	"github.com/yairfalse/kartta/internal/normalize"
	"github.com/yairfalse/kartta/internal/tagging"
	"github.com/yairfalse/kartta/pkg/resource"
	"github.com/yairfalse/kartta/storage"
)

var (
	// ErrNoAccounts is returned when no active account is configured.
	ErrNoAccounts = errors.New("no accounts configured")
	// ErrRunInProgress is returned when a run is already executing.
	ErrRunInProgress = errors.New("discovery already running")
	// errAllRegionsFailed marks an account where no region completed.
	errAllRegionsFailed = errors.New("all regions failed")
)

// DefaultRegions are scanned for accounts that list none.
var DefaultRegions = []string{
	"us-east-1", "us-west-2", "eu-west-1", "eu-central-1",
	"ap-southeast-1", "ap-northeast-1", "ap-south-1",
}

// Accounts supplies decrypted credentials and records their use.
type Accounts interface {
	ActiveCredentials(ctx context.Context) ([]account.Credentials, error)
	MarkUsed(ctx context.Context, ids []string, at time.Time) error
}

// TaggingFactory builds a tagging client for one account and region.
type TaggingFactory interface {
	Tagging(ctx context.Context, creds account.Credentials, region string) (tagging.API, error)
}

// Enricher attaches live state to resources and returns the failure count.
type Enricher interface {
	EnrichAll(ctx context.Context, creds account.Credentials, resources []resource.Resource) int
}

// Journal records detected changes.
type Journal interface {
	Record(diffs []resource.Diff, at time.Time) error
}

// Options bounds the fan-out.
type Options struct {
	AccountConcurrency int
	RegionConcurrency  int
	AccountTimeout     time.Duration
	RegionTimeout      time.Duration
	DefaultRegions     []string
	// RequestsPerSecond and Burst size the per-account token bucket.
	RequestsPerSecond float64
	Burst             int
	Tagging           tagging.Options
}

// DefaultOptions returns the standard fan-out bounds.
func DefaultOptions() Options {
	return Options{
		AccountConcurrency: 2,
		RegionConcurrency:  1,
		AccountTimeout:     10 * time.Minute,
		RegionTimeout:      3 * time.Minute,
		DefaultRegions:     DefaultRegions,
		RequestsPerSecond:  5,
		Burst:              5,
		Tagging:            tagging.DefaultOptions(),
	}
}

// Summary reports the outcome of one DiscoverAll run.
type Summary struct {
	ResourcesDiscovered int           `json:"resourcesDiscovered"`
	AccountsProcessed   int           `json:"accountsProcessed"`
	AccountsFailed      int           `json:"accountsFailed"`
	EnrichmentFailures  int           `json:"enrichmentFailures"`
	PersistFailures     int           `json:"persistFailures"`
	Created             int           `json:"created"`
	Updated             int           `json:"updated"`
	StateChanges        int           `json:"stateChanges"`
	HealthChanges       int           `json:"healthChanges"`
	OwnerChanges        int           `json:"ownerChanges"`
	Duration            time.Duration `json:"duration"`
}

// Coordinator runs discovery passes across every active account.
type Coordinator struct {
	accounts       Accounts
	taggingFactory TaggingFactory
	enricher       Enricher
	store          storage.ResourceWriter
	filter         *filter.Filter
	opts           Options
	metrics        *Metrics
	taggingMetrics *tagging.Metrics
	journal        Journal
	tracer         trace.Tracer
	running        atomic.Bool
	now            func() time.Time
}

// NewCoordinator creates a coordinator. enricher and f may be nil.
func NewCoordinator(accounts Accounts, factory TaggingFactory, enricher Enricher, store storage.ResourceWriter, f *filter.Filter, opts Options) *Coordinator {
	if opts.AccountConcurrency <= 0 {
		opts.AccountConcurrency = 1
	}
	if opts.RegionConcurrency <= 0 {
		opts.RegionConcurrency = 1
	}
	if len(opts.DefaultRegions) == 0 {
		opts.DefaultRegions = DefaultRegions
	}
	return &Coordinator{
		accounts:       accounts,
		taggingFactory: factory,
		enricher:       enricher,
		store:          store,
		filter:         f,
		opts:           opts,
		tracer:         otel.Tracer("kartta.discovery"),
		now:            time.Now,
	}
}

// WithMetrics attaches discovery and tagging metrics.
func (c *Coordinator) WithMetrics(m *Metrics, tm *tagging.Metrics) *Coordinator {
	c.metrics = m
	c.taggingMetrics = tm
	return c
}

// WithJournal records every detected change to j.
func (c *Coordinator) WithJournal(j Journal) *Coordinator {
	c.journal = j
	return c
}

// Running reports whether a run is executing.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

type accountResult struct {
	resources          []resource.Resource
	enrichmentFailures int
	err                error
}

// DiscoverAll discovers, enriches and persists resources for every active
// account. Only one run executes at a time.
func (c *Coordinator) DiscoverAll(ctx context.Context) (Summary, error) {
	if !c.running.CompareAndSwap(false, true) {
		return Summary{}, ErrRunInProgress
	}
	defer c.running.Store(false)

	start := c.now()
	ctx, span := c.tracer.Start(ctx, "discovery.run")
	defer span.End()

	creds, err := c.accounts.ActiveCredentials(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load accounts")
		return Summary{}, fmt.Errorf("load accounts: %w", err)
	}
	if len(creds) == 0 {
		span.SetStatus(codes.Error, "no accounts")
		return Summary{}, ErrNoAccounts
	}
	span.SetAttributes(attribute.Int("discovery.accounts", len(creds)))

	results := make([]accountResult, len(creds))
	p := pool.New().WithMaxGoroutines(c.opts.AccountConcurrency)
	for i := range creds {
		p.Go(func() {
			results[i] = c.runAccount(ctx, creds[i])
		})
	}
	p.Wait()

	var summary Summary
	var all []resource.Resource
	used := make([]string, 0, len(creds))
	for i, res := range results {
		summary.EnrichmentFailures += res.enrichmentFailures
		if res.err != nil {
			summary.AccountsFailed++
			log.Warn().
				Err(res.err).
				Str("account_name", creds[i].Name).
				Str("account_id", creds[i].AccountID).
				Msg("account discovery failed")
			continue
		}
		summary.AccountsProcessed++
		used = append(used, creds[i].ConfigID)
		all = append(all, res.resources...)
	}
	summary.ResourcesDiscovered = len(all)

	batch := storage.UpsertResources(ctx, c.store, all, c.now())
	summary.Created = batch.Created
	summary.Updated = batch.Updated
	summary.PersistFailures = batch.Failed
	c.metrics.RecordStorageOperations(ctx, "upsert", "success", batch.Created+batch.Updated)
	c.metrics.RecordStorageOperations(ctx, "upsert", "error", batch.Failed)
	for _, d := range batch.Diffs {
		c.countChange(ctx, d, &summary)
	}
	if c.journal != nil {
		if err := c.journal.Record(batch.Diffs, c.now()); err != nil {
			log.Warn().Err(err).Int("changes", len(batch.Diffs)).Msg("failed to journal changes")
		}
	}

	if len(used) > 0 {
		if err := c.accounts.MarkUsed(ctx, used, c.now()); err != nil {
			log.Warn().Err(err).Int("accounts", len(used)).Msg("failed to record account use")
		}
	}

	summary.Duration = c.now().Sub(start)
	status := "success"
	if summary.AccountsFailed > 0 || summary.PersistFailures > 0 {
		status = "partial"
	}
	c.metrics.RecordRun(ctx, status, summary.Duration.Seconds(), summary.ResourcesDiscovered)

	span.SetAttributes(
		attribute.Int("discovery.resources", summary.ResourcesDiscovered),
		attribute.Int("discovery.accounts_failed", summary.AccountsFailed),
	)

	log.Info().
		Int("resources", summary.ResourcesDiscovered).
		Int("accounts_processed", summary.AccountsProcessed).
		Int("accounts_failed", summary.AccountsFailed).
		Int("enrichment_failures", summary.EnrichmentFailures).
		Int("persist_failures", summary.PersistFailures).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Dur("duration", summary.Duration).
		Msg("discovery run complete")

	return summary, ctx.Err()
}

func (c *Coordinator) countChange(ctx context.Context, d resource.Diff, summary *Summary) {
	c.metrics.RecordChange(ctx, d)
	if d.Has(resource.FieldState) {
		summary.StateChanges++
	}
	if d.Has(resource.FieldHealth) {
		summary.HealthChanges++
	}
	if ch, ok := d.Changes[resource.FieldOwner]; ok {
		summary.OwnerChanges++
		log.Info().
			Str("arn", d.ARN).
			Str("previous_account_config_id", ch.Previous).
			Str("account_config_id", ch.Current).
			Msg("owner reassigned")
	}
}

func (c *Coordinator) runAccount(ctx context.Context, creds account.Credentials) accountResult {
	ctx, cancel := context.WithTimeout(ctx, c.accountTimeout())
	defer cancel()

	resources, err := c.DiscoverAccount(ctx, creds)
	if err != nil {
		return accountResult{err: err}
	}

	var failures int
	if c.enricher != nil && len(resources) > 0 {
		failures = c.enricher.EnrichAll(ctx, creds, resources)
		c.metrics.RecordEnrichmentFailures(ctx, creds.Name, failures)
	}
	return accountResult{resources: resources, enrichmentFailures: failures}
}

// DiscoverAccount searches every region of one account. A region error only
// abandons that region; an error is returned when every region failed.
func (c *Coordinator) DiscoverAccount(ctx context.Context, creds account.Credentials) ([]resource.Resource, error) {
	ctx, span := c.tracer.Start(ctx, "discovery.account",
		trace.WithAttributes(
			attribute.String("account.name", creds.Name),
			attribute.String("account.id", creds.AccountID),
		))
	defer span.End()

	regions := creds.Regions
	if len(regions) == 0 {
		regions = c.opts.DefaultRegions
	}

	// One bucket per account, shared by its regions.
	var limiter *rate.Limiter
	if c.opts.RequestsPerSecond > 0 {
		burst := max(c.opts.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(c.opts.RequestsPerSecond), burst)
	}

	perRegion := make([][]resource.Resource, len(regions))
	errs := make([]error, len(regions))
	p := pool.New().WithMaxGoroutines(c.opts.RegionConcurrency)
	for i, region := range regions {
		p.Go(func() {
			perRegion[i], errs[i] = c.discoverRegion(ctx, creds, region, limiter)
		})
	}
	p.Wait()

	var out []resource.Resource
	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			c.metrics.RecordRegionError(ctx, creds.Name, regions[i])
			log.Warn().
				Err(err).
				Str("account_name", creds.Name).
				Str("region", regions[i]).
				Msg("region discovery failed")
			continue
		}
		out = append(out, perRegion[i]...)
	}

	if failed == len(regions) {
		err := fmt.Errorf("account %s: %w", creds.Name, errAllRegionsFailed)
		if ctx.Err() != nil {
			err = fmt.Errorf("account %s: %w", creds.Name, ctx.Err())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "all regions failed")
		return nil, err
	}

	span.SetAttributes(attribute.Int("discovery.resources", len(out)))
	return out, nil
}

func (c *Coordinator) discoverRegion(ctx context.Context, creds account.Credentials, region string, limiter *rate.Limiter) ([]resource.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, c.regionTimeout())
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "discovery.region",
		trace.WithAttributes(
			attribute.String("account.name", creds.Name),
			attribute.String("cloud.region", region),
		))
	defer span.End()

	api, err := c.taggingFactory.Tagging(ctx, creds, region)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create tagging client: %w", err)
	}

	client := tagging.NewClient(api, region, limiter, c.opts.Tagging).WithMetrics(c.taggingMetrics)

	var resources []resource.Resource
	skipped := 0
	stats, err := client.Search(ctx, normalize.SupportedResourceTypes(), func(e normalize.Entry) {
		r := normalize.ParseResource(e, region)
		if r == nil {
			skipped++
			return
		}
		r.AccountConfigID = creds.ConfigID
		if r.AccountID == "" {
			r.AccountID = creds.AccountID
		}
		resources = append(resources, *r)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("search %s: %w", region, err)
	}
	if stats.Batches > 0 && stats.FailedBatches == stats.Batches {
		err := fmt.Errorf("search %s: all %d batches failed", region, stats.Batches)
		span.RecordError(err)
		return nil, err
	}

	kept := c.filter.FilterResources(ctx, resources)

	span.SetAttributes(
		attribute.Int("discovery.entries", stats.Entries),
		attribute.Int("discovery.skipped", skipped),
		attribute.Int("discovery.filtered", len(resources)-len(kept)),
	)
	log.Debug().
		Str("account_name", creds.Name).
		Str("region", region).
		Int("entries", stats.Entries).
		Int("pages", stats.Pages).
		Int("skipped", skipped).
		Int("kept", len(kept)).
		Msg("region discovered")

	return kept, nil
}

func (c *Coordinator) accountTimeout() time.Duration {
	if c.opts.AccountTimeout > 0 {
		return c.opts.AccountTimeout
	}
	return DefaultOptions().AccountTimeout
}

func (c *Coordinator) regionTimeout() time.Duration {
	if c.opts.RegionTimeout > 0 {
		return c.opts.RegionTimeout
	}
	return DefaultOptions().RegionTimeout
}
