// Package postgres provides the PostgreSQL-backed inventory store. Schema
// changes are applied with goose from the embedded migrations.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/pkg/resource"
	"github.com/yairfalse/kartta/storage"
	"github.com/yairfalse/kartta/storage/postgres/migrations"
)

// DBTX is the subset of database/sql used by the store.
// Both *sql.DB and *sql.Tx satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements storage.Store over PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the pgx driver and applies pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return New(db), nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn in a transaction, committing on success and rolling back
// on error or panic.
func withTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return fn(ctx, tx)
}

// ══════════════════════════════════════════════════════════════════════════════
// Accounts
// ══════════════════════════════════════════════════════════════════════════════

const accountColumns = `id, account_name, account_id, access_key_id, secret_access_key,
	default_region, regions, is_active, is_default, description, organization_role,
	created_at, updated_at, last_used`

// CreateAccount inserts an account, clearing other defaults in the same transaction.
func (s *Store) CreateAccount(ctx context.Context, a account.Account) error {
	regions, err := json.Marshal(a.Regions)
	if err != nil {
		return err
	}

	return withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		if a.IsDefault {
			_, err := tx.ExecContext(ctx,
				`UPDATE aws_accounts SET is_default = FALSE, updated_at = $1 WHERE is_active AND is_default`,
				a.CreatedAt)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO aws_accounts (`+accountColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			a.ID, a.Name, a.AccountID, a.AccessKeyID, a.SecretAccessKey,
			a.DefaultRegion, regions, a.IsActive, a.IsDefault, a.Description, a.OrganizationRole,
			a.CreatedAt, a.UpdatedAt, a.LastUsedAt)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

// ListAccounts returns all accounts in creation order.
func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM aws_accounts ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var accounts []account.Account
	for rows.Next() {
		var (
			a       account.Account
			regions []byte
			used    sql.NullTime
		)
		err := rows.Scan(&a.ID, &a.Name, &a.AccountID, &a.AccessKeyID, &a.SecretAccessKey,
			&a.DefaultRegion, &regions, &a.IsActive, &a.IsDefault, &a.Description, &a.OrganizationRole,
			&a.CreatedAt, &a.UpdatedAt, &used)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if err := json.Unmarshal(regions, &a.Regions); err != nil {
			return nil, fmt.Errorf("decode regions for %s: %w", a.ID, err)
		}
		if used.Valid {
			t := used.Time
			a.LastUsedAt = &t
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return accounts, nil
}

// DeactivateAccount soft-disables an account.
func (s *Store) DeactivateAccount(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE aws_accounts SET is_active = FALSE, is_default = FALSE, updated_at = $2 WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return account.ErrNotFound
	}
	return nil
}

// TouchAccounts sets last_used on the given accounts.
func (s *Store) TouchAccounts(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE aws_accounts SET last_used = $1 WHERE id = $2`, at, id); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		return nil
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// Resources
// ══════════════════════════════════════════════════════════════════════════════

const resourceColumns = `id, arn, aws_account_config_id, aws_account_id, aws_region, resource_type,
	name_tag, all_tags, raw_metadata, resource_state, health_status, is_active, is_starred,
	operational_metrics, status_details, first_discovered_at, last_seen_at, status_last_checked`

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (*resource.Resource, error) {
	var (
		r                               resource.Resource
		configID                        sql.NullString
		health                          string
		tags, raw, metrics, statusBytes []byte
	)
	err := row.Scan(&r.ID, &r.ARN, &configID, &r.AccountID, &r.Region, &r.Type,
		&r.Name, &tags, &raw, &r.State, &health, &r.IsActive, &r.IsStarred,
		&metrics, &statusBytes, &r.FirstDiscoveredAt, &r.LastSeenAt, &r.StatusLastCheckedAt)
	if err != nil {
		return nil, err
	}

	r.AccountConfigID = configID.String
	r.Health = resource.Health(health)
	for _, f := range []struct {
		data []byte
		dst  any
	}{
		{tags, &r.Tags},
		{raw, &r.RawMetadata},
		{metrics, &r.OperationalMetrics},
		{statusBytes, &r.StatusDetails},
	} {
		if len(f.data) == 0 {
			continue
		}
		if err := json.Unmarshal(f.data, f.dst); err != nil {
			return nil, fmt.Errorf("decode %s: %w", r.ARN, err)
		}
	}
	return &r, nil
}

// resourceArgs returns the column values of r in resourceColumns order.
func resourceArgs(r resource.Resource) ([]any, error) {
	encoded := make([][]byte, 0, 4)
	for _, v := range []any{orEmpty(r.Tags), orEmpty(r.RawMetadata), orEmptyAny(r.OperationalMetrics), orEmptyAny(r.StatusDetails)} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", r.ARN, err)
		}
		encoded = append(encoded, data)
	}

	var configID sql.NullString
	if r.AccountConfigID != "" {
		configID = sql.NullString{String: r.AccountConfigID, Valid: true}
	}

	return []any{
		r.ID, r.ARN, configID, r.AccountID, r.Region, r.Type,
		r.Name, encoded[0], encoded[1], r.State, string(r.Health), r.IsActive, r.IsStarred,
		encoded[2], encoded[3], r.FirstDiscoveredAt, r.LastSeenAt, r.StatusLastCheckedAt,
	}, nil
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptyAny(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// upsertResourceSQL inserts a row or, when the ARN already exists, overwrites
// the discovery-owned columns. id, is_starred and first_discovered_at survive
// the update. inserted is true only for the statement that created the row.
const upsertResourceSQL = `INSERT INTO aws_discovered_resources (` + resourceColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (arn) DO UPDATE SET
		aws_account_config_id = EXCLUDED.aws_account_config_id,
		aws_account_id = EXCLUDED.aws_account_id,
		aws_region = EXCLUDED.aws_region,
		resource_type = EXCLUDED.resource_type,
		name_tag = EXCLUDED.name_tag,
		all_tags = EXCLUDED.all_tags,
		raw_metadata = EXCLUDED.raw_metadata,
		resource_state = EXCLUDED.resource_state,
		health_status = EXCLUDED.health_status,
		is_active = EXCLUDED.is_active,
		operational_metrics = EXCLUDED.operational_metrics,
		status_details = EXCLUDED.status_details,
		last_seen_at = EXCLUDED.last_seen_at,
		status_last_checked = EXCLUDED.status_last_checked
	RETURNING id, (xmax = 0) AS inserted`

// UpsertResource inserts or overwrites the row keyed by ARN. The write is a
// single statement, so two writers racing on a new ARN both succeed and the
// later one becomes an update.
func (s *Store) UpsertResource(ctx context.Context, r resource.Resource, now time.Time) (storage.UpsertResult, error) {
	if r.ARN == "" {
		return storage.UpsertResult{}, errors.New("resource arn is empty")
	}

	existing, err := scanResource(s.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM aws_discovered_resources WHERE arn = $1`, r.ARN))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		existing = nil
	case err != nil:
		return storage.UpsertResult{}, fmt.Errorf("db error: %w", err)
	}

	stored := r
	stored.ID = uuid.NewString()
	stored.IsStarred = false
	stored.FirstDiscoveredAt = now
	stored.LastSeenAt = now
	stored.StatusLastCheckedAt = now

	args, err := resourceArgs(stored)
	if err != nil {
		return storage.UpsertResult{}, err
	}

	var result storage.UpsertResult
	if err := s.db.QueryRowContext(ctx, upsertResourceSQL, args...).Scan(&result.ID, &result.Created); err != nil {
		return storage.UpsertResult{}, fmt.Errorf("db error: %w", err)
	}

	switch {
	case result.Created:
		result.Diff = resource.Compare(nil, r)
	case existing != nil:
		result.Diff = resource.Compare(existing, r)
	}
	// A row created by a concurrent writer between the read and the write
	// carries no diff here; that writer reports the addition.
	return result, nil
}

// SetStarred toggles the star flag on the row with the given id.
func (s *Store) SetStarred(ctx context.Context, id string, starred bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE aws_discovered_resources SET is_starred = $2 WHERE id::text = $1`, id, starred)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetResourceByARN returns the stored row for arn.
func (s *Store) GetResourceByARN(ctx context.Context, arn string) (*resource.Resource, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM aws_discovered_resources WHERE arn = $1`, arn)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return r, nil
}

// QueryResources filters, orders and pages the inventory.
func (s *Store) QueryResources(ctx context.Context, q storage.Query) (storage.Page, error) {
	q, err := q.Normalize()
	if err != nil {
		return storage.Page{}, err
	}

	where, args := buildWhere(q)

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM aws_discovered_resources`+where, args...).Scan(&total); err != nil {
		return storage.Page{}, fmt.Errorf("db error: %w", err)
	}

	order := "DESC"
	if q.SortOrder == storage.SortAsc {
		order = "ASC"
	}
	args = append(args, q.Limit, q.Offset())
	query := fmt.Sprintf(`SELECT %s FROM aws_discovered_resources%s ORDER BY last_seen_at %s, arn %s LIMIT $%d OFFSET $%d`,
		resourceColumns, where, order, order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return storage.Page{}, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	items := make([]resource.Resource, 0, q.Limit)
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return storage.Page{}, fmt.Errorf("db error: %w", err)
		}
		items = append(items, *r)
	}
	if err := rows.Err(); err != nil {
		return storage.Page{}, fmt.Errorf("db error: %w", err)
	}

	return storage.Page{
		Items:      items,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalCount: total,
		TotalPages: storage.TotalPages(total, q.Limit),
	}, nil
}

// buildWhere renders the query filters as a parameterized WHERE clause.
func buildWhere(q storage.Query) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.ResourceType != "" {
		add("resource_type = $%d", q.ResourceType)
	}
	if q.Region != "" {
		add("aws_region = $%d", q.Region)
	}
	if q.AccountName != "" {
		add("aws_account_config_id IN (SELECT id FROM aws_accounts WHERE account_name = $%d)", q.AccountName)
	}
	if q.StarredOnly {
		conds = append(conds, "is_starred")
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
