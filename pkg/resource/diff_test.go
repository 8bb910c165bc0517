package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare_Added(t *testing.T) {
	d := Compare(nil, Resource{ARN: "arn:aws:sqs:us-east-1:123456789012:jobs"})

	require.NotNil(t, d)
	assert.Equal(t, DiffAdded, d.Type)
	assert.Equal(t, "arn:aws:sqs:us-east-1:123456789012:jobs", d.ARN)
	assert.Empty(t, d.Changes)
}

func TestCompare_NoChanges(t *testing.T) {
	r := Resource{
		ARN:             "arn:aws:ec2:us-east-1:123456789012:instance/i-1",
		AccountConfigID: "acct-1",
		Name:            "web-1",
		State:           "running",
		Health:          HealthHealthy,
		IsActive:        true,
		Tags:            map[string]string{"Name": "web-1"},
	}
	observed := r
	observed.OperationalMetrics = map[string]any{"cpu": 4}

	assert.Nil(t, Compare(&r, observed))
}

func TestCompare_Modified(t *testing.T) {
	stored := Resource{
		ARN:             "arn:aws:ec2:us-east-1:123456789012:instance/i-1",
		AccountConfigID: "acct-1",
		State:           "running",
		Health:          HealthHealthy,
		IsActive:        true,
		Tags:            map[string]string{"env": "prod"},
	}
	observed := stored
	observed.AccountConfigID = "acct-2"
	observed.State = "stopped"
	observed.Health = HealthUnhealthy
	observed.IsActive = false
	observed.Tags = map[string]string{"env": "staging"}

	d := Compare(&stored, observed)

	require.NotNil(t, d)
	assert.Equal(t, DiffModified, d.Type)
	assert.Equal(t, Change{Previous: "acct-1", Current: "acct-2"}, d.Changes[FieldOwner])
	assert.Equal(t, Change{Previous: "running", Current: "stopped"}, d.Changes[FieldState])
	assert.Equal(t, Change{Previous: "healthy", Current: "unhealthy"}, d.Changes[FieldHealth])
	assert.Equal(t, Change{Previous: "true", Current: "false"}, d.Changes[FieldActive])
	assert.Equal(t, `{"env":"staging"}`, d.Changes[FieldTags].Current)
	assert.False(t, d.Has(FieldName))
}

func TestDiff_HasNil(t *testing.T) {
	var d *Diff
	assert.False(t, d.Has(FieldOwner))
}

func TestDiffType_Constants(t *testing.T) {
	assert.Equal(t, DiffType("added"), DiffAdded)
	assert.Equal(t, DiffType("modified"), DiffModified)
}

func TestMergeObserved_KeepsIdentity(t *testing.T) {
	stored := Resource{
		ID:        "row-1",
		ARN:       "arn:aws:lambda:us-east-1:123456789012:function:fn",
		IsStarred: true,
		State:     "Active",
	}
	stored.SetDetail("runtime", "go1.x")

	observed := Resource{
		ID:    "ignored",
		ARN:   stored.ARN,
		State: "Inactive",
		Tags:  map[string]string{"team": "core"},
	}

	stored.MergeObserved(observed)

	assert.Equal(t, "row-1", stored.ID)
	assert.True(t, stored.IsStarred)
	assert.Equal(t, "Inactive", stored.State)
	assert.Equal(t, "core", stored.Tags["team"])
	assert.Nil(t, stored.StatusDetails)
}

func TestSetMetric_InitializesMap(t *testing.T) {
	var r Resource
	r.SetMetric("runningCount", 2)
	r.SetDetail("engine", "postgres")

	assert.Equal(t, 2, r.OperationalMetrics["runningCount"])
	assert.Equal(t, "postgres", r.StatusDetails["engine"])
}
