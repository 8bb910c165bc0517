package storage

import (
	"context"
	"errors"
	"time"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/pkg/resource"
)

// ErrNotFound is returned when a resource row does not exist.
var ErrNotFound = errors.New("resource not found")

// UpsertResult reports what an upsert did to the stored row.
type UpsertResult struct {
	ID      string
	Created bool
	Diff    *resource.Diff // nil when nothing tracked changed
}

// ResourceWriter reconciles discovered resources into the inventory.
type ResourceWriter interface {
	// UpsertResource inserts or overwrites the row keyed by r.ARN.
	// FirstDiscoveredAt, ID and IsStarred of an existing row are preserved.
	UpsertResource(ctx context.Context, r resource.Resource, now time.Time) (UpsertResult, error)
	SetStarred(ctx context.Context, id string, starred bool) error
}

// ResourceReader serves inventory lookups and queries.
type ResourceReader interface {
	GetResourceByARN(ctx context.Context, arn string) (*resource.Resource, error)
	QueryResources(ctx context.Context, q Query) (Page, error)
}

// ResourceStore combines read and write for resources.
type ResourceStore interface {
	ResourceWriter
	ResourceReader
}

// Store is the full persistence surface: accounts and resources.
type Store interface {
	account.Store
	ResourceStore
	Ping(ctx context.Context) error
	Close() error
}
