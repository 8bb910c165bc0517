// Package daemon runs discovery on a fixed interval.
package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/kartta/internal/discovery"
)

// Runner executes one discovery pass.
type Runner interface {
	DiscoverAll(ctx context.Context) (discovery.Summary, error)
}

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
	// RunOnStart triggers a pass immediately instead of waiting one interval.
	RunOnStart bool
}

// Daemon manages periodic discovery
type Daemon struct {
	runner     Runner
	interval   time.Duration
	runOnStart bool
	startTime  time.Time
	runCount   atomic.Int64

	mu          sync.RWMutex
	lastRun     time.Time
	lastSummary discovery.Summary
	lastErr     error
}

// NewDaemon creates a new daemon instance
func NewDaemon(runner Runner, config Config) (*Daemon, error) {
	if runner == nil {
		return nil, errors.New("daemon: runner is required")
	}
	if config.Interval <= 0 {
		return nil, errors.New("daemon: interval must be positive")
	}
	return &Daemon{
		runner:     runner,
		interval:   config.Interval,
		runOnStart: config.RunOnStart,
		startTime:  time.Now(),
	}, nil
}

// Start runs discovery every interval until ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	log.Info().Dur("interval", d.interval).Msg("discovery scheduler started")

	if d.runOnStart {
		d.runDiscovery(ctx)
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("discovery scheduler stopped")
			return nil
		case <-ticker.C:
			d.runDiscovery(ctx)
		}
	}
}

func (d *Daemon) runDiscovery(ctx context.Context) {
	summary, err := d.runner.DiscoverAll(ctx)

	switch {
	case errors.Is(err, discovery.ErrRunInProgress):
		log.Debug().Msg("discovery already running, skipping tick")
		return
	case errors.Is(err, discovery.ErrNoAccounts):
		log.Info().Msg("no accounts configured, skipping discovery")
	case err != nil && ctx.Err() == nil:
		log.Error().Err(err).Msg("scheduled discovery failed")
	}

	d.runCount.Add(1)
	d.mu.Lock()
	d.lastRun = time.Now()
	d.lastSummary = summary
	d.lastErr = err
	d.mu.Unlock()
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	hs := HealthStatus{
		Status:  "healthy",
		Uptime:  int64(time.Since(d.startTime).Seconds()),
		Runs:    d.runCount.Load(),
		LastRun: d.lastRun,
	}
	if d.lastErr != nil && !errors.Is(d.lastErr, discovery.ErrNoAccounts) {
		hs.Status = "degraded"
		hs.LastError = d.lastErr.Error()
	}
	if !d.lastRun.IsZero() {
		hs.LastResources = d.lastSummary.ResourcesDiscovered
	}
	return hs
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status        string    `json:"status"`
	Uptime        int64     `json:"uptimeSeconds"`
	Runs          int64     `json:"runs"`
	LastRun       time.Time `json:"lastRun,omitzero"`
	LastResources int       `json:"lastResources"`
	LastError     string    `json:"lastError,omitempty"`
}

// RunCount returns the number of completed scheduled runs.
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}
