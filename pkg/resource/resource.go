// Package resource defines the discovered resource model for Kartta.
package resource

import "time"

// Health is the enumerated health of a discovered resource.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthUnknown   Health = "unknown"
)

// Default enrichment values for resources without a type-specific procedure.
const (
	StateDiscovered = "discovered"
	StateError      = "error"
)

// Resource is a cloud resource as stored in the inventory.
// ARN is the natural key; ID is the internal row id.
type Resource struct {
	ID              string            `json:"id"`                      // Row id (uuid), assigned on first insert
	ARN             string            `json:"arn"`                     // Global identifier, unique
	AccountConfigID string            `json:"awsAccountConfigId"`      // Weak reference to the discovering account
	AccountID       string            `json:"awsAccountId"`            // 12-digit AWS account id
	Region          string            `json:"awsRegion"`               // Region (e.g., "us-east-1")
	Type            string            `json:"resourceType"`            // Canonical type (e.g., "EC2::Instance")
	Name            string            `json:"nameTag,omitempty"`       // Display name
	Tags            map[string]string `json:"allTags"`                 // Full tag map
	RawMetadata     map[string]string `json:"rawMetadata"`             // Parsed ARN components
	State           string            `json:"resourceState,omitempty"` // Provider-native status
	Health          Health            `json:"healthStatus"`
	IsActive        bool              `json:"isActive"`
	IsStarred       bool              `json:"isStarred"`

	OperationalMetrics map[string]any `json:"operationalMetrics,omitempty"`
	StatusDetails      map[string]any `json:"statusDetails,omitempty"`

	FirstDiscoveredAt   time.Time `json:"firstDiscoveredAt"`
	LastSeenAt          time.Time `json:"lastSeenAt"`
	StatusLastCheckedAt time.Time `json:"statusLastChecked"`
}

// SetMetric records a type-specific operational fact.
func (r *Resource) SetMetric(key string, value any) {
	if r.OperationalMetrics == nil {
		r.OperationalMetrics = make(map[string]any)
	}
	r.OperationalMetrics[key] = value
}

// SetDetail records a type-specific descriptive fact.
func (r *Resource) SetDetail(key string, value any) {
	if r.StatusDetails == nil {
		r.StatusDetails = make(map[string]any)
	}
	r.StatusDetails[key] = value
}

// MergeObserved overwrites the discovery-owned fields of r with those of
// observed. Row id, star flag and first-discovered time are kept.
func (r *Resource) MergeObserved(observed Resource) {
	r.AccountConfigID = observed.AccountConfigID
	r.AccountID = observed.AccountID
	r.Region = observed.Region
	r.Type = observed.Type
	r.Name = observed.Name
	r.Tags = observed.Tags
	r.RawMetadata = observed.RawMetadata
	r.State = observed.State
	r.Health = observed.Health
	r.IsActive = observed.IsActive
	r.OperationalMetrics = observed.OperationalMetrics
	r.StatusDetails = observed.StatusDetails
}
