package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/pkg/resource"
)

// Bucket names in bbolt
var (
	bucketAccounts    = []byte("accounts")
	bucketResources   = []byte("resources")    // arn → resource json
	bucketResourceIDs = []byte("resource_ids") // row id → arn
)

// BoltStore is the embedded inventory store: bbolt on disk plus an in-memory
// btree index ordered by last-seen time for query paging.
type BoltStore struct {
	mu sync.RWMutex

	db *bbolt.DB

	// In-memory index for ordered queries
	index *btree.BTreeG[*indexEntry]
	byARN map[string]*indexEntry
}

// indexEntry holds the filterable columns of a stored resource.
type indexEntry struct {
	ARN             string
	ID              string
	Type            string
	Region          string
	AccountConfigID string
	IsStarred       bool
	LastSeenAt      time.Time
}

func lessByLastSeen(a, b *indexEntry) bool {
	if !a.LastSeenAt.Equal(b.LastSeenAt) {
		return a.LastSeenAt.Before(b.LastSeenAt)
	}
	return a.ARN < b.ARN
}

// OpenBolt opens (or creates) the store at path. A directory path gets kartta.db inside it.
func OpenBolt(path string) (*BoltStore, error) {
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, "kartta.db")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketAccounts, bucketResources, bucketResourceIDs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &BoltStore{
		db:    db,
		index: btree.NewG[*indexEntry](32, lessByLastSeen),
		byARN: make(map[string]*indexEntry),
	}

	if err := s.rebuildIndex(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rebuild index: %w", err)
	}

	return s, nil
}

// Close closes the storage
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database file is open and readable.
func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketResources) == nil {
			return errors.New("resources bucket missing")
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// Accounts
// ══════════════════════════════════════════════════════════════════════════════

// CreateAccount inserts an account, clearing other defaults in the same transaction.
func (s *BoltStore) CreateAccount(_ context.Context, a account.Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAccounts)

		if bucket.Get([]byte(a.ID)) != nil {
			return fmt.Errorf("account %s already exists", a.ID)
		}

		if a.IsDefault {
			var updates []account.Account
			err := bucket.ForEach(func(_, v []byte) error {
				var existing account.Account
				if err := json.Unmarshal(v, &existing); err != nil {
					return err
				}
				if existing.IsActive && existing.IsDefault {
					existing.IsDefault = false
					existing.UpdatedAt = a.CreatedAt
					updates = append(updates, existing)
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, u := range updates {
				if err := putJSON(bucket, []byte(u.ID), u); err != nil {
					return err
				}
			}
		}

		return putJSON(bucket, []byte(a.ID), a)
	})
}

// ListAccounts returns all accounts in creation order.
func (s *BoltStore) ListAccounts(_ context.Context) ([]account.Account, error) {
	var accounts []account.Account

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(_, v []byte) error {
			var a account.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			accounts = append(accounts, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(accounts, func(a, b account.Account) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return accounts, nil
}

// DeactivateAccount soft-disables an account.
func (s *BoltStore) DeactivateAccount(_ context.Context, id string, at time.Time) error {
	return s.updateAccount(id, func(a *account.Account) {
		a.IsActive = false
		a.IsDefault = false
		a.UpdatedAt = at
	})
}

// TouchAccounts sets LastUsedAt on the given accounts. Unknown ids are ignored.
func (s *BoltStore) TouchAccounts(_ context.Context, ids []string, at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAccounts)
		for _, id := range ids {
			v := bucket.Get([]byte(id))
			if v == nil {
				continue
			}
			var a account.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			used := at
			a.LastUsedAt = &used
			if err := putJSON(bucket, []byte(id), a); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) updateAccount(id string, fn func(*account.Account)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketAccounts)
		v := bucket.Get([]byte(id))
		if v == nil {
			return account.ErrNotFound
		}
		var a account.Account
		if err := json.Unmarshal(v, &a); err != nil {
			return err
		}
		fn(&a)
		return putJSON(bucket, []byte(id), a)
	})
}

// accountIDsByName resolves the account records carrying the given name.
func (s *BoltStore) accountIDsByName(name string) (map[string]bool, error) {
	ids := make(map[string]bool)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(k, v []byte) error {
			var a account.Account
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.Name == name {
				ids[a.ID] = true
			}
			return nil
		})
	})
	return ids, err
}

// ══════════════════════════════════════════════════════════════════════════════
// Resources
// ══════════════════════════════════════════════════════════════════════════════

// UpsertResource inserts or overwrites the row keyed by ARN in its own transaction.
func (s *BoltStore) UpsertResource(_ context.Context, r resource.Resource, now time.Time) (UpsertResult, error) {
	if r.ARN == "" {
		return UpsertResult{}, errors.New("resource arn is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result UpsertResult
		stored resource.Resource
	)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResources)

		if v := bucket.Get([]byte(r.ARN)); v != nil {
			var existing resource.Resource
			if err := json.Unmarshal(v, &existing); err != nil {
				return fmt.Errorf("decode stored resource: %w", err)
			}
			result.Diff = resource.Compare(&existing, r)
			existing.MergeObserved(r)
			existing.LastSeenAt = now
			existing.StatusLastCheckedAt = now
			stored = existing
		} else {
			stored = r
			stored.ID = uuid.NewString()
			stored.IsStarred = false
			stored.FirstDiscoveredAt = now
			stored.LastSeenAt = now
			stored.StatusLastCheckedAt = now
			result.Created = true
			result.Diff = resource.Compare(nil, r)
		}

		if err := putJSON(bucket, []byte(stored.ARN), stored); err != nil {
			return err
		}
		return tx.Bucket(bucketResourceIDs).Put([]byte(stored.ID), []byte(stored.ARN))
	})
	if err != nil {
		return UpsertResult{}, err
	}

	s.updateIndex(stored)
	result.ID = stored.ID
	return result, nil
}

// SetStarred toggles the star flag on the row with the given id.
func (s *BoltStore) SetStarred(_ context.Context, id string, starred bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stored resource.Resource
	err := s.db.Update(func(tx *bbolt.Tx) error {
		arn := tx.Bucket(bucketResourceIDs).Get([]byte(id))
		if arn == nil {
			return ErrNotFound
		}
		bucket := tx.Bucket(bucketResources)
		v := bucket.Get(arn)
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &stored); err != nil {
			return err
		}
		stored.IsStarred = starred
		return putJSON(bucket, arn, stored)
	})
	if err != nil {
		return err
	}

	s.updateIndex(stored)
	return nil
}

// GetResourceByARN returns the stored row for arn.
func (s *BoltStore) GetResourceByARN(_ context.Context, arn string) (*resource.Resource, error) {
	var r resource.Resource
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketResources).Get([]byte(arn))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// QueryResources filters, orders and pages the inventory.
func (s *BoltStore) QueryResources(_ context.Context, q Query) (Page, error) {
	q, err := q.Normalize()
	if err != nil {
		return Page{}, err
	}

	var accountIDs map[string]bool
	if q.AccountName != "" {
		accountIDs, err = s.accountIDsByName(q.AccountName)
		if err != nil {
			return Page{}, err
		}
	}

	match := func(e *indexEntry) bool {
		if q.ResourceType != "" && e.Type != q.ResourceType {
			return false
		}
		if q.Region != "" && e.Region != q.Region {
			return false
		}
		if q.StarredOnly && !e.IsStarred {
			return false
		}
		if accountIDs != nil && !accountIDs[e.AccountConfigID] {
			return false
		}
		return true
	}

	s.mu.RLock()
	var (
		total int
		arns  []string
	)
	offset := q.Offset()
	visit := func(e *indexEntry) bool {
		if !match(e) {
			return true
		}
		if total >= offset && len(arns) < q.Limit {
			arns = append(arns, e.ARN)
		}
		total++
		return true
	}
	if q.SortOrder == SortAsc {
		s.index.Ascend(visit)
	} else {
		s.index.Descend(visit)
	}
	s.mu.RUnlock()

	items := make([]resource.Resource, 0, len(arns))
	err = s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketResources)
		for _, arn := range arns {
			v := bucket.Get([]byte(arn))
			if v == nil {
				continue
			}
			var r resource.Resource
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			items = append(items, r)
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}

	return Page{
		Items:      items,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalCount: total,
		TotalPages: TotalPages(total, q.Limit),
	}, nil
}

// Helper functions

// updateIndex must be called with s.mu held for writing.
func (s *BoltStore) updateIndex(r resource.Resource) {
	if old, ok := s.byARN[r.ARN]; ok {
		s.index.Delete(old)
	}
	e := &indexEntry{
		ARN:             r.ARN,
		ID:              r.ID,
		Type:            r.Type,
		Region:          r.Region,
		AccountConfigID: r.AccountConfigID,
		IsStarred:       r.IsStarred,
		LastSeenAt:      r.LastSeenAt,
	}
	s.index.ReplaceOrInsert(e)
	s.byARN[r.ARN] = e
}

func (s *BoltStore) rebuildIndex() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketResources).ForEach(func(_, v []byte) error {
			var r resource.Resource
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			s.updateIndex(r)
			return nil
		})
	})
}

func putJSON(bucket *bbolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bucket.Put(key, data)
}
