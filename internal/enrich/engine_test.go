package enrich

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/yairfalse/kartta/internal/account"
	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/pkg/resource"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(f ClientFactory) *Engine {
	e := NewEmpty(f, Options{Concurrency: 2, CallTimeout: time.Second})
	e.now = func() time.Time { return fixedNow }
	return e
}

func testCreds() account.Credentials {
	return account.Credentials{ConfigID: "acc-1", Name: "prod", AccountID: "123456789012"}
}

// ═══════════════════════════════════════════════════════
// Dispatch
// ═══════════════════════════════════════════════════════

func TestNew_RegistersDefaults(t *testing.T) {
	e := New(&fakeFactory{clients: &awsprov.Clients{}}, DefaultOptions())

	for _, typ := range []string{"EC2::Instance", "RDS::DBInstance", "Lambda::Function", "S3::Bucket", "SQS::Queue", "CloudTrail::Trail"} {
		assert.True(t, e.Supports(typ), typ)
	}
	assert.False(t, e.Supports("SNS::Topic"))
}

func TestNewEmpty_ClampsOptions(t *testing.T) {
	e := NewEmpty(nil, Options{})
	assert.Equal(t, 1, e.opts.Concurrency)
	assert.Equal(t, DefaultOptions().CallTimeout, e.opts.CallTimeout)
}

func TestEnrichAll_UnknownTypeGetsDefaults(t *testing.T) {
	e := newTestEngine(&fakeFactory{clients: &awsprov.Clients{}})
	resources := []resource.Resource{{ARN: "arn:aws:sns:us-east-1:123456789012:alerts", Type: "SNS::Topic", Region: "us-east-1"}}

	failed := e.EnrichAll(context.Background(), testCreds(), resources)

	assert.Zero(t, failed)
	r := resources[0]
	assert.Equal(t, resource.StateDiscovered, r.State)
	assert.Equal(t, resource.HealthUnknown, r.Health)
	assert.True(t, r.IsActive)
	assert.Equal(t, fixedNow.Format(time.RFC3339), r.StatusDetails["lastEnriched"])
}

func TestEnrichAll_FailureIsIsolated(t *testing.T) {
	e := newTestEngine(&fakeFactory{clients: &awsprov.Clients{}})
	e.Register("Test::Good", EnricherFunc(func(_ context.Context, _ *awsprov.Clients, r *resource.Resource) error {
		setStatus(r, "running", true)
		return nil
	}))
	e.Register("Test::Bad", EnricherFunc(func(_ context.Context, _ *awsprov.Clients, _ *resource.Resource) error {
		return errors.New("access denied")
	}))

	resources := []resource.Resource{
		{ARN: "a", Type: "Test::Good", Region: "us-east-1"},
		{ARN: "b", Type: "Test::Bad", Region: "us-east-1"},
		{ARN: "c", Type: "Test::Good", Region: "us-east-1"},
	}

	failed := e.EnrichAll(context.Background(), testCreds(), resources)

	assert.Equal(t, 1, failed)
	for _, i := range []int{0, 2} {
		assert.Equal(t, "running", resources[i].State)
		assert.Equal(t, resource.HealthHealthy, resources[i].Health)
		assert.Contains(t, resources[i].StatusDetails, "lastEnriched")
	}

	bad := resources[1]
	assert.Equal(t, resource.StateError, bad.State)
	assert.Equal(t, resource.HealthUnknown, bad.Health)
	assert.False(t, bad.IsActive)
	assert.Equal(t, "access denied", bad.StatusDetails["error"])
	assert.NotContains(t, bad.StatusDetails, "lastEnriched")
}

func TestEnrichAll_ClientFactoryError(t *testing.T) {
	e := newTestEngine(&fakeFactory{err: errors.New("bad region")})
	e.Register("Test::Good", EnricherFunc(func(context.Context, *awsprov.Clients, *resource.Resource) error {
		t.Fatal("enricher must not run without clients")
		return nil
	}))

	resources := []resource.Resource{
		{ARN: "a", Type: "Test::Good", Region: "us-east-1"},
		{ARN: "b", Type: "SNS::Topic", Region: "us-east-1"},
	}

	failed := e.EnrichAll(context.Background(), testCreds(), resources)

	assert.Equal(t, 1, failed)
	assert.Equal(t, resource.StateError, resources[0].State)
	assert.Contains(t, resources[0].StatusDetails["error"], "bad region")
	assert.Equal(t, resource.StateDiscovered, resources[1].State)
}

func TestEnrichAll_GroupsByRegion(t *testing.T) {
	f := &fakeFactory{clients: &awsprov.Clients{}}
	e := newTestEngine(f)

	var seen atomic.Int64
	e.Register("Test::Region", EnricherFunc(func(_ context.Context, c *awsprov.Clients, r *resource.Resource) error {
		seen.Add(1)
		if c.Region != r.Region {
			return errors.New("wrong region clients")
		}
		return nil
	}))

	resources := []resource.Resource{
		{ARN: "a", Type: "Test::Region", Region: "us-west-2"},
		{ARN: "b", Type: "Test::Region", Region: "eu-west-1"},
		{ARN: "c", Type: "Test::Region", Region: "us-west-2"},
	}

	failed := e.EnrichAll(context.Background(), testCreds(), resources)

	assert.Zero(t, failed)
	assert.EqualValues(t, 3, seen.Load())
	assert.Equal(t, []string{"eu-west-1", "us-west-2"}, f.regions, "clients built once per region, sorted")
}

func TestEnrichAll_AppliesCallTimeout(t *testing.T) {
	e := newTestEngine(&fakeFactory{clients: &awsprov.Clients{}})
	e.opts.CallTimeout = 10 * time.Millisecond
	e.Register("Test::Slow", EnricherFunc(func(ctx context.Context, _ *awsprov.Clients, _ *resource.Resource) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	resources := []resource.Resource{{ARN: "a", Type: "Test::Slow", Region: "us-east-1"}}
	failed := e.EnrichAll(context.Background(), testCreds(), resources)

	assert.Equal(t, 1, failed)
	assert.Equal(t, resource.StateError, resources[0].State)
}

func TestEnrichAll_CanceledContextSettlesEveryResource(t *testing.T) {
	f := &fakeFactory{clients: &awsprov.Clients{}}
	e := newTestEngine(f)
	e.Register("Test::Thing", EnricherFunc(func(context.Context, *awsprov.Clients, *resource.Resource) error {
		return nil
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resources := []resource.Resource{
		{ARN: "a", Type: "SNS::Topic", Region: "us-east-1"},
		{ARN: "b", Type: "Test::Thing", Region: "us-east-1"},
	}
	failed := e.EnrichAll(ctx, testCreds(), resources)

	assert.Equal(t, 1, failed)
	assert.Empty(t, f.regions, "no clients are built after cancellation")

	assert.Equal(t, resource.StateDiscovered, resources[0].State)
	assert.Equal(t, resource.HealthUnknown, resources[0].Health)

	assert.Equal(t, resource.StateError, resources[1].State)
	assert.Equal(t, resource.HealthUnknown, resources[1].Health)
	assert.False(t, resources[1].IsActive)
	assert.Contains(t, resources[1].StatusDetails["error"], "context canceled")
}

func TestEnrichAll_CancelMidRunSettlesLaterRegions(t *testing.T) {
	f := &fakeFactory{clients: &awsprov.Clients{}}
	e := newTestEngine(f)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Register("Test::Canceler", EnricherFunc(func(_ context.Context, _ *awsprov.Clients, r *resource.Resource) error {
		cancel()
		setStatus(r, "available", true)
		return nil
	}))
	e.Register("Test::Thing", EnricherFunc(func(_ context.Context, _ *awsprov.Clients, r *resource.Resource) error {
		setStatus(r, "available", true)
		return nil
	}))

	resources := []resource.Resource{
		{ARN: "a", Type: "Test::Canceler", Region: "eu-west-1"},
		{ARN: "b", Type: "SNS::Topic", Region: "us-east-1"},
		{ARN: "c", Type: "Test::Thing", Region: "us-east-1"},
	}
	failed := e.EnrichAll(ctx, testCreds(), resources)

	assert.Equal(t, []string{"eu-west-1"}, f.regions)
	assert.Equal(t, "available", resources[0].State)
	assert.Equal(t, resource.StateDiscovered, resources[1].State)
	assert.Equal(t, resource.HealthUnknown, resources[1].Health)
	assert.Equal(t, resource.StateError, resources[2].State)
	assert.Equal(t, resource.HealthUnknown, resources[2].Health)
	assert.Equal(t, 1, failed)

	for _, r := range resources {
		assert.NotEmpty(t, r.State, r.ARN)
		assert.NotEmpty(t, r.Health, r.ARN)
	}
}

func TestEnrichAll_ErrorClearsPartialMetrics(t *testing.T) {
	e := newTestEngine(&fakeFactory{clients: &awsprov.Clients{}})
	e.Register("Test::Partial", EnricherFunc(func(_ context.Context, _ *awsprov.Clients, r *resource.Resource) error {
		r.SetMetric("cpuCount", 4)
		return errors.New("DescribeInstanceStatus failed")
	}))

	resources := []resource.Resource{{ARN: "a", Type: "Test::Partial", Region: "us-east-1"}}
	failed := e.EnrichAll(context.Background(), testCreds(), resources)

	assert.Equal(t, 1, failed)
	assert.Equal(t, resource.StateError, resources[0].State)
	assert.Empty(t, resources[0].OperationalMetrics)
}

func TestSetStatus_EmptyStateIsUnknown(t *testing.T) {
	r := &resource.Resource{}
	setStatus(r, "", false)
	assert.Equal(t, "unknown", r.State)
	assert.Equal(t, resource.HealthUnhealthy, r.Health)
}
