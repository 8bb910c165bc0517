package account

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Store persists account records.
type Store interface {
	// CreateAccount inserts a. When a.IsDefault is set, the default flag is
	// cleared on every other active account in the same transaction.
	CreateAccount(ctx context.Context, a Account) error
	ListAccounts(ctx context.Context) ([]Account, error)
	// DeactivateAccount sets IsActive and IsDefault to false. Returns ErrNotFound for unknown ids.
	DeactivateAccount(ctx context.Context, id string, at time.Time) error
	TouchAccounts(ctx context.Context, ids []string, at time.Time) error
}

// Verifier performs one live call with the supplied credentials and returns
// the provider account id they belong to.
type Verifier interface {
	Verify(ctx context.Context, creds Credentials) (accountID string, err error)
}

// Cipher encrypts credential fields at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(encoded string) (string, error)
}

// Registry owns account credential records.
type Registry struct {
	store    Store
	verifier Verifier
	cipher   Cipher
	now      func() time.Time
}

// NewRegistry creates a registry.
func NewRegistry(store Store, verifier Verifier, cipher Cipher) *Registry {
	return &Registry{
		store:    store,
		verifier: verifier,
		cipher:   cipher,
		now:      time.Now,
	}
}

var regionPattern = regexp.MustCompile(`^[a-z]{2}(-gov|-iso[a-z]*)?-[a-z]+-\d$`)

// Validate checks creation input without touching the provider.
func Validate(in Input) error {
	var missing []string
	if strings.TrimSpace(in.Name) == "" {
		missing = append(missing, "accountName")
	}
	if strings.TrimSpace(in.AccessKeyID) == "" {
		missing = append(missing, "accessKeyId")
	}
	if strings.TrimSpace(in.SecretAccessKey) == "" {
		missing = append(missing, "secretAccessKey")
	}
	if strings.TrimSpace(in.DefaultRegion) == "" {
		missing = append(missing, "defaultRegion")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	if len(in.Regions) == 0 {
		return fmt.Errorf("%w: at least one region required", ErrValidation)
	}

	for _, r := range append([]string{in.DefaultRegion}, in.Regions...) {
		if !regionPattern.MatchString(r) {
			return fmt.Errorf("%w: invalid region %q", ErrValidation, r)
		}
	}
	return nil
}

// Add validates, verifies and stores a new account. Returns the new record id.
func (r *Registry) Add(ctx context.Context, in Input) (string, error) {
	if err := Validate(in); err != nil {
		return "", err
	}

	creds := Credentials{
		Name:            in.Name,
		AccountID:       in.AccountID,
		AccessKeyID:     in.AccessKeyID,
		SecretAccessKey: in.SecretAccessKey,
		DefaultRegion:   in.DefaultRegion,
		Regions:         in.Regions,
	}

	verifiedID, err := r.verifier.Verify(ctx, creds)
	if err != nil {
		log.Warn().Err(err).Str("account_name", in.Name).Msg("account credential validation failed")
		return "", fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	accountID := in.AccountID
	if accountID == "" {
		accountID = verifiedID
	} else if verifiedID != "" && verifiedID != accountID {
		log.Warn().
			Str("account_name", in.Name).
			Str("account_id", accountID).
			Str("verified_account_id", verifiedID).
			Msg("configured account id differs from credential owner")
	}

	encKey, err := r.cipher.Encrypt(in.AccessKeyID)
	if err != nil {
		return "", fmt.Errorf("encrypt access key: %w", err)
	}
	encSecret, err := r.cipher.Encrypt(in.SecretAccessKey)
	if err != nil {
		return "", fmt.Errorf("encrypt secret key: %w", err)
	}

	now := r.now().UTC()
	acct := Account{
		ID:               uuid.NewString(),
		Name:             in.Name,
		AccountID:        accountID,
		AccessKeyID:      encKey,
		SecretAccessKey:  encSecret,
		DefaultRegion:    in.DefaultRegion,
		Regions:          in.Regions,
		IsActive:         true,
		IsDefault:        in.IsDefault,
		Description:      in.Description,
		OrganizationRole: in.OrganizationRole,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := r.store.CreateAccount(ctx, acct); err != nil {
		return "", fmt.Errorf("store account: %w", err)
	}

	log.Info().
		Str("account_config_id", acct.ID).
		Str("account_name", acct.Name).
		Str("account_id", acct.AccountID).
		Bool("default", acct.IsDefault).
		Msg("account added")

	return acct.ID, nil
}

// List returns metadata for every account, active or not.
func (r *Registry) List(ctx context.Context) ([]Summary, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	out := make([]Summary, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.Summarize())
	}
	return out, nil
}

// Remove soft-disables an account. History and discovered resources are kept.
func (r *Registry) Remove(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: account id required", ErrValidation)
	}
	if err := r.store.DeactivateAccount(ctx, id, r.now().UTC()); err != nil {
		return err
	}
	log.Info().Str("account_config_id", id).Msg("account deactivated")
	return nil
}

// ActiveCredentials decrypts every active account in registration order.
// A record that fails to decrypt is logged and skipped.
func (r *Registry) ActiveCredentials(ctx context.Context) ([]Credentials, error) {
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var out []Credentials
	for _, a := range accounts {
		if !a.IsActive {
			continue
		}

		creds, err := r.decrypt(a)
		if err != nil {
			log.Error().
				Err(err).
				Str("account_config_id", a.ID).
				Str("account_name", a.Name).
				Msg("failed to decrypt account credentials")
			continue
		}
		out = append(out, creds)
	}
	return out, nil
}

func (r *Registry) decrypt(a Account) (Credentials, error) {
	accessKey, err := r.cipher.Decrypt(a.AccessKeyID)
	if err != nil {
		return Credentials{}, fmt.Errorf("access key: %w", err)
	}
	secret, err := r.cipher.Decrypt(a.SecretAccessKey)
	if err != nil {
		return Credentials{}, fmt.Errorf("secret key: %w", err)
	}

	regions := a.Regions
	if len(regions) == 0 {
		regions = []string{a.DefaultRegion}
	}

	return Credentials{
		ConfigID:        a.ID,
		Name:            a.Name,
		AccountID:       a.AccountID,
		AccessKeyID:     accessKey,
		SecretAccessKey: secret,
		DefaultRegion:   a.DefaultRegion,
		Regions:         regions,
	}, nil
}

// MarkUsed advances LastUsedAt on the given accounts.
func (r *Registry) MarkUsed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.store.TouchAccounts(ctx, ids, at.UTC())
}
