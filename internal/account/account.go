// Package account manages encrypted AWS account credential records.
package account

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrValidation marks malformed account input, rejected before any external call.
	ErrValidation = errors.New("invalid account input")
	// ErrAuthentication marks credentials the provider rejected.
	ErrAuthentication = errors.New("aws credential validation failed")
	// ErrNotFound is returned for unknown account ids.
	ErrNotFound = errors.New("account not found")
)

// Account is a stored account record. AccessKeyID and SecretAccessKey hold
// iv:ciphertext values, never plaintext.
type Account struct {
	ID               string     `json:"id"`
	Name             string     `json:"accountName"`
	AccountID        string     `json:"accountId"`
	AccessKeyID      string     `json:"accessKeyId"`
	SecretAccessKey  string     `json:"secretAccessKey"`
	DefaultRegion    string     `json:"defaultRegion"`
	Regions          []string   `json:"regions"`
	IsActive         bool       `json:"isActive"`
	IsDefault        bool       `json:"isDefault"`
	Description      string     `json:"description,omitempty"`
	OrganizationRole string     `json:"organizationRole,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	LastUsedAt       *time.Time `json:"lastUsed,omitempty"`
}

// Summary is the metadata-only projection exposed to callers.
type Summary struct {
	ID               string     `json:"id"`
	Name             string     `json:"accountName"`
	AccountID        string     `json:"accountId"`
	DefaultRegion    string     `json:"defaultRegion"`
	Regions          []string   `json:"regions"`
	IsActive         bool       `json:"isActive"`
	IsDefault        bool       `json:"isDefault"`
	Description      string     `json:"description,omitempty"`
	OrganizationRole string     `json:"organizationRole,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastUsedAt       *time.Time `json:"lastUsed,omitempty"`
}

// Summarize projects an account without its credential material.
func (a Account) Summarize() Summary {
	return Summary{
		ID:               a.ID,
		Name:             a.Name,
		AccountID:        a.AccountID,
		DefaultRegion:    a.DefaultRegion,
		Regions:          a.Regions,
		IsActive:         a.IsActive,
		IsDefault:        a.IsDefault,
		Description:      a.Description,
		OrganizationRole: a.OrganizationRole,
		CreatedAt:        a.CreatedAt,
		LastUsedAt:       a.LastUsedAt,
	}
}

// Credentials are decrypted account credentials for a single discovery pass.
// They are never persisted and never logged.
type Credentials struct {
	ConfigID        string
	Name            string
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	DefaultRegion   string
	Regions         []string
}

// String redacts the secret material.
func (c Credentials) String() string {
	return "Credentials{" + c.Name + " " + c.AccountID + " [redacted]}"
}

// MarshalZerologObject logs identifying fields only.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("account_config_id", c.ConfigID).
		Str("account_name", c.Name).
		Str("account_id", c.AccountID).
		Strs("regions", c.Regions)
}

// Input is the account creation request.
type Input struct {
	Name             string   `json:"accountName"`
	AccountID        string   `json:"accountId"`
	AccessKeyID      string   `json:"accessKeyId"`
	SecretAccessKey  string   `json:"secretAccessKey"`
	DefaultRegion    string   `json:"defaultRegion"`
	Regions          []string `json:"regions"`
	IsDefault        bool     `json:"isDefault"`
	Description      string   `json:"description"`
	OrganizationRole string   `json:"organizationRole"`
}
