// Package tagging wraps the Resource Groups Tagging API search used for discovery.
package tagging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	rgt "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	rgttypes "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/yairfalse/kartta/internal/normalize"
)

// Provider limits on a single GetResources call.
const (
	MaxTypeFilters = 5
	MaxPageSize    = 100
)

// API defines the tagging operations used by the client.
type API interface {
	GetResources(ctx context.Context, params *rgt.GetResourcesInput, optFns ...func(*rgt.Options)) (*rgt.GetResourcesOutput, error)
}

// Options tunes batching, pacing and retries.
type Options struct {
	BatchSize   int
	PageSize    int32
	BatchDelay  time.Duration
	PageTimeout time.Duration
	MaxRetries  uint
}

// DefaultOptions mirror the provider-friendly defaults.
func DefaultOptions() Options {
	return Options{
		BatchSize:   MaxTypeFilters,
		PageSize:    50,
		BatchDelay:  200 * time.Millisecond,
		PageTimeout: 30 * time.Second,
		MaxRetries:  4,
	}
}

// Stats summarizes one Search call.
type Stats struct {
	Batches       int
	FailedBatches int
	Pages         int
	Retries       int
	Entries       int
}

// Client issues batched, paginated, rate-limited tag searches in one region.
type Client struct {
	api     API
	region  string
	limiter *rate.Limiter
	opts    Options
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. The limiter may be shared across regions of
// one account; a nil limiter disables pacing.
func NewClient(api API, region string, limiter *rate.Limiter, opts Options) *Client {
	if opts.BatchSize <= 0 || opts.BatchSize > MaxTypeFilters {
		opts.BatchSize = MaxTypeFilters
	}
	if opts.PageSize <= 0 || opts.PageSize > MaxPageSize {
		opts.PageSize = 50
	}
	return &Client{
		api:     api,
		region:  region,
		limiter: limiter,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

// WithMetrics attaches tagging metrics to the client.
func (c *Client) WithMetrics(m *Metrics) *Client {
	c.metrics = m
	return c
}

// Batches partitions resource types into groups of at most size.
func Batches(types []string, size int) [][]string {
	if size <= 0 {
		size = MaxTypeFilters
	}
	batches := make([][]string, 0, (len(types)+size-1)/size)
	for i := 0; i < len(types); i += size {
		end := min(i+size, len(types))
		batches = append(batches, types[i:end])
	}
	return batches
}

// Search pages through every batch of type filters and calls fn for each entry.
// A failed batch is logged and skipped. Only context cancellation aborts the search.
func (c *Client) Search(ctx context.Context, types []string, fn func(normalize.Entry)) (Stats, error) {
	var stats Stats
	batches := Batches(types, c.opts.BatchSize)

	for i, batch := range batches {
		if i > 0 && c.opts.BatchDelay > 0 {
			if err := c.sleep(ctx, c.opts.BatchDelay); err != nil {
				return stats, err
			}
		}

		stats.Batches++
		if err := c.searchBatch(ctx, batch, fn, &stats); err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			stats.FailedBatches++
			log.Warn().
				Err(err).
				Str("region", c.region).
				Int("batch", i).
				Strs("resource_types", batch).
				Msg("tag search batch failed")
		}
	}

	return stats, nil
}

func (c *Client) searchBatch(ctx context.Context, batch []string, fn func(normalize.Entry), stats *Stats) error {
	var token *string

	for {
		input := &rgt.GetResourcesInput{
			ResourceTypeFilters: batch,
			ResourcesPerPage:    aws.Int32(c.opts.PageSize),
			PaginationToken:     token,
		}

		out, err := c.getPage(ctx, input, stats)
		if err != nil {
			return err
		}
		stats.Pages++
		c.metrics.recordPage(ctx, c.region)

		for _, m := range out.ResourceTagMappingList {
			if m.ResourceARN == nil {
				continue
			}
			stats.Entries++
			fn(ToEntry(m))
		}

		token = out.PaginationToken
		if aws.ToString(token) == "" {
			return nil
		}
	}
}

// getPage fetches one page, retrying throttling errors with exponential backoff.
func (c *Client) getPage(ctx context.Context, input *rgt.GetResourcesInput, stats *Stats) (*rgt.GetResourcesOutput, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	attempt := 0
	operation := func() (*rgt.GetResourcesOutput, error) {
		if attempt > 0 {
			stats.Retries++
			c.metrics.recordRetry(ctx, c.region)
		}
		attempt++

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, backoff.Permanent(err)
			}
		}

		pageCtx := ctx
		if c.opts.PageTimeout > 0 {
			var cancel context.CancelFunc
			pageCtx, cancel = context.WithTimeout(ctx, c.opts.PageTimeout)
			defer cancel()
		}

		out, err := c.api.GetResources(pageCtx, input)
		if err != nil {
			if IsThrottling(err) {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return out, nil
	}

	out, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.opts.MaxRetries+1),
	)
	if err != nil {
		return nil, fmt.Errorf("get resources: %w", err)
	}
	return out, nil
}

var throttlingCodes = map[string]bool{
	"Throttling":                true,
	"ThrottlingException":       true,
	"ThrottledException":        true,
	"TooManyRequestsException":  true,
	"RequestLimitExceeded":      true,
	"RequestThrottledException": true,
}

// IsThrottling reports whether err is a provider rate-limit rejection.
func IsThrottling(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return throttlingCodes[apiErr.ErrorCode()]
	}
	return false
}

// ToEntry converts a tag mapping into a normalizer entry.
func ToEntry(m rgttypes.ResourceTagMapping) normalize.Entry {
	tags := make(map[string]string, len(m.Tags))
	for _, t := range m.Tags {
		if t.Key == nil {
			continue
		}
		tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
	}
	return normalize.Entry{ARN: aws.ToString(m.ResourceARN), Tags: tags}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
