package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	ecstypes "github.com/aws/aws-sdk-go-v2/service/ecs/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/pkg/resource"
)

type mockLogsClient struct {
	DescribeLogGroupsFunc func(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

func (m *mockLogsClient) DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	if m.DescribeLogGroupsFunc != nil {
		return m.DescribeLogGroupsFunc(ctx, params, optFns...)
	}
	return &cloudwatchlogs.DescribeLogGroupsOutput{}, nil
}

// ═══════════════════════════════════════════════════════
// Compute
// ═══════════════════════════════════════════════════════

func ec2WithStatus(state ec2types.InstanceStateName, system, instance ec2types.SummaryStatus) *mockEC2Client {
	return &mockEC2Client{
		DescribeInstancesFunc: func(_ context.Context, params *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
			return &ec2.DescribeInstancesOutput{
				Reservations: []ec2types.Reservation{{
					Instances: []ec2types.Instance{{
						InstanceId:       aws.String(params.InstanceIds[0]),
						InstanceType:     ec2types.InstanceTypeT3Micro,
						State:            &ec2types.InstanceState{Name: state},
						PrivateIpAddress: aws.String("10.0.0.5"),
						Placement:        &ec2types.Placement{AvailabilityZone: aws.String("us-east-1a")},
					}},
				}},
			}, nil
		},
		DescribeInstanceStatusFunc: func(context.Context, *ec2.DescribeInstanceStatusInput, ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error) {
			if system == "" {
				return &ec2.DescribeInstanceStatusOutput{}, nil
			}
			return &ec2.DescribeInstanceStatusOutput{
				InstanceStatuses: []ec2types.InstanceStatus{{
					SystemStatus:   &ec2types.InstanceStatusSummary{Status: system},
					InstanceStatus: &ec2types.InstanceStatusSummary{Status: instance},
				}},
			}, nil
		},
	}
}

func TestEnrichEC2Instance(t *testing.T) {
	tests := []struct {
		name       string
		state      ec2types.InstanceStateName
		system     ec2types.SummaryStatus
		instance   ec2types.SummaryStatus
		wantHealth resource.Health
		wantActive bool
	}{
		{"running and checks ok", ec2types.InstanceStateNameRunning, ec2types.SummaryStatusOk, ec2types.SummaryStatusOk, resource.HealthHealthy, true},
		{"impaired instance check", ec2types.InstanceStateNameRunning, ec2types.SummaryStatusOk, ec2types.SummaryStatusImpaired, resource.HealthUnhealthy, true},
		{"running without status", ec2types.InstanceStateNameRunning, "", "", resource.HealthHealthy, true},
		{"stopped without status", ec2types.InstanceStateNameStopped, "", "", resource.HealthUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &awsprov.Clients{EC2: ec2WithStatus(tt.state, tt.system, tt.instance)}
			r := &resource.Resource{ARN: "arn:aws:ec2:us-east-1:123456789012:instance/i-0abc", Type: "EC2::Instance"}

			require.NoError(t, enrichEC2Instance(context.Background(), c, r))
			assert.Equal(t, string(tt.state), r.State)
			assert.Equal(t, tt.wantHealth, r.Health)
			assert.Equal(t, tt.wantActive, r.IsActive)
			assert.Equal(t, "t3.micro", r.StatusDetails["instanceType"])
			assert.Equal(t, "linux", r.StatusDetails["platform"])
			assert.Equal(t, "us-east-1a", r.StatusDetails["availabilityZone"])
		})
	}
}

func TestEnrichEC2Instance_NotFound(t *testing.T) {
	c := &awsprov.Clients{EC2: &mockEC2Client{}}
	r := &resource.Resource{ARN: "arn:aws:ec2:us-east-1:123456789012:instance/i-gone", Type: "EC2::Instance"}

	err := enrichEC2Instance(context.Background(), c, r)
	assert.ErrorIs(t, err, errNotFound)
}

func TestEnrichLambdaFunction(t *testing.T) {
	var gotName string
	c := &awsprov.Clients{Lambda: &mockLambdaClient{
		GetFunctionConfigurationFunc: func(_ context.Context, params *lambda.GetFunctionConfigurationInput, _ ...func(*lambda.Options)) (*lambda.GetFunctionConfigurationOutput, error) {
			gotName = aws.ToString(params.FunctionName)
			return &lambda.GetFunctionConfigurationOutput{
				State:         lambdatypes.StateActive,
				Runtime:       lambdatypes.RuntimePython312,
				MemorySize:    aws.Int32(256),
				Architectures: []lambdatypes.Architecture{lambdatypes.ArchitectureArm64},
				Environment:   &lambdatypes.EnvironmentResponse{Variables: map[string]string{"A": "1", "B": "2"}},
			}, nil
		},
	}}
	r := &resource.Resource{ARN: "arn:aws:lambda:us-east-1:123456789012:function:my-fn:live", Type: "Lambda::Function"}

	require.NoError(t, enrichLambdaFunction(context.Background(), c, r))
	assert.Equal(t, "my-fn", gotName)
	assert.Equal(t, "Active", r.State)
	assert.Equal(t, resource.HealthHealthy, r.Health)
	assert.Equal(t, "arm64", r.StatusDetails["architecture"])
	assert.Equal(t, 2, r.OperationalMetrics["environment"])
}

func TestEnrichECSService(t *testing.T) {
	tests := []struct {
		name        string
		arn         string
		running     int32
		desired     int32
		wantHealth  resource.Health
		wantCluster string
	}{
		{"steady", "arn:aws:ecs:us-east-1:123456789012:service/prod/web", 3, 3, resource.HealthHealthy, "prod"},
		{"degraded", "arn:aws:ecs:us-east-1:123456789012:service/prod/web", 1, 3, resource.HealthUnhealthy, "prod"},
		{"scaled to zero", "arn:aws:ecs:us-east-1:123456789012:service/prod/web", 0, 0, resource.HealthUnhealthy, "prod"},
		{"legacy arn uses default cluster", "arn:aws:ecs:us-east-1:123456789012:service/web", 2, 2, resource.HealthHealthy, "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCluster string
			c := &awsprov.Clients{ECS: &mockECSClient{
				DescribeServicesFunc: func(_ context.Context, params *ecs.DescribeServicesInput, _ ...func(*ecs.Options)) (*ecs.DescribeServicesOutput, error) {
					gotCluster = aws.ToString(params.Cluster)
					return &ecs.DescribeServicesOutput{Services: []ecstypes.Service{{
						Status:       aws.String("ACTIVE"),
						RunningCount: tt.running,
						DesiredCount: tt.desired,
						LaunchType:   ecstypes.LaunchTypeFargate,
					}}}, nil
				},
			}}
			r := &resource.Resource{ARN: tt.arn, Type: "ECS::Service"}

			require.NoError(t, enrichECSService(context.Background(), c, r))
			assert.Equal(t, tt.wantCluster, gotCluster)
			assert.Equal(t, "ACTIVE", r.State)
			assert.True(t, r.IsActive)
			assert.Equal(t, tt.wantHealth, r.Health)
			assert.Equal(t, tt.running, r.OperationalMetrics["runningCount"])
		})
	}
}

// ═══════════════════════════════════════════════════════
// Databases
// ═══════════════════════════════════════════════════════

func TestEnrichRDSInstance(t *testing.T) {
	c := &awsprov.Clients{RDS: &mockRDSClient{
		DescribeDBInstancesFunc: func(_ context.Context, params *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
			assert.Equal(t, "prod-db", aws.ToString(params.DBInstanceIdentifier))
			return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{{
				DBInstanceStatus: aws.String("available"),
				Engine:           aws.String("postgres"),
				MultiAZ:          aws.Bool(true),
			}}}, nil
		},
	}}
	r := &resource.Resource{ARN: "arn:aws:rds:us-east-1:123456789012:db:prod-db", Type: "RDS::DBInstance"}

	require.NoError(t, enrichRDSInstance(context.Background(), c, r))
	assert.Equal(t, "available", r.State)
	assert.Equal(t, resource.HealthHealthy, r.Health)
	assert.True(t, r.IsActive)
	assert.Equal(t, "postgres", r.StatusDetails["engine"])
}

func TestEnrichRDSInstance_APIError(t *testing.T) {
	c := &awsprov.Clients{RDS: &mockRDSClient{
		DescribeDBInstancesFunc: func(context.Context, *rds.DescribeDBInstancesInput, ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
			return nil, errors.New("AccessDenied")
		},
	}}
	r := &resource.Resource{ARN: "arn:aws:rds:us-east-1:123456789012:db:prod-db", Type: "RDS::DBInstance"}

	err := enrichRDSInstance(context.Background(), c, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

// ═══════════════════════════════════════════════════════
// Network
// ═══════════════════════════════════════════════════════

func TestEnrichLoadBalancer(t *testing.T) {
	lbARN := "arn:aws:elasticloadbalancing:us-east-1:123456789012:loadbalancer/app/web/50dc6c495c0c9188"
	c := &awsprov.Clients{ELB: &mockELBClient{
		DescribeLoadBalancersFunc: func(_ context.Context, params *elbv2.DescribeLoadBalancersInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error) {
			assert.Equal(t, []string{lbARN}, params.LoadBalancerArns)
			return &elbv2.DescribeLoadBalancersOutput{LoadBalancers: []elbv2types.LoadBalancer{{
				State:   &elbv2types.LoadBalancerState{Code: elbv2types.LoadBalancerStateEnumActive},
				Type:    elbv2types.LoadBalancerTypeEnumApplication,
				DNSName: aws.String("web.elb.amazonaws.com"),
				AvailabilityZones: []elbv2types.AvailabilityZone{
					{ZoneName: aws.String("us-east-1a")},
					{ZoneName: aws.String("us-east-1b")},
				},
			}}}, nil
		},
		DescribeTargetGroupsFunc: func(context.Context, *elbv2.DescribeTargetGroupsInput, ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error) {
			return nil, errors.New("throttled")
		},
	}}
	r := &resource.Resource{ARN: lbARN, Type: "ELB::LoadBalancer"}

	require.NoError(t, enrichLoadBalancer(context.Background(), c, r), "target group lookup is best effort")
	assert.Equal(t, "active", r.State)
	assert.Equal(t, resource.HealthHealthy, r.Health)
	assert.Equal(t, []string{"us-east-1a", "us-east-1b"}, r.StatusDetails["availabilityZones"])
	assert.NotContains(t, r.OperationalMetrics, "targetGroupCount")
}

func TestEnrichTargetGroup(t *testing.T) {
	tgARN := "arn:aws:elasticloadbalancing:us-east-1:123456789012:targetgroup/web/73e2d6bc24d8a067"
	c := &awsprov.Clients{ELB: &mockELBClient{
		DescribeTargetGroupsFunc: func(context.Context, *elbv2.DescribeTargetGroupsInput, ...func(*elbv2.Options)) (*elbv2.DescribeTargetGroupsOutput, error) {
			return &elbv2.DescribeTargetGroupsOutput{TargetGroups: []elbv2types.TargetGroup{{
				LoadBalancerArns: []string{"lb-1"},
				Protocol:         elbv2types.ProtocolEnumHttp,
				Port:             aws.Int32(80),
			}}}, nil
		},
		DescribeTargetHealthFunc: func(context.Context, *elbv2.DescribeTargetHealthInput, ...func(*elbv2.Options)) (*elbv2.DescribeTargetHealthOutput, error) {
			return &elbv2.DescribeTargetHealthOutput{TargetHealthDescriptions: []elbv2types.TargetHealthDescription{
				{TargetHealth: &elbv2types.TargetHealth{State: elbv2types.TargetHealthStateEnumHealthy}},
				{TargetHealth: &elbv2types.TargetHealth{State: elbv2types.TargetHealthStateEnumUnhealthy}},
			}}, nil
		},
	}}
	r := &resource.Resource{ARN: tgARN, Type: "ELB::TargetGroup"}

	require.NoError(t, enrichTargetGroup(context.Background(), c, r))
	assert.Equal(t, "attached", r.State)
	assert.True(t, r.IsActive)
	assert.Equal(t, resource.HealthUnhealthy, r.Health)
	assert.Equal(t, 2, r.OperationalMetrics["targets"])
	assert.Equal(t, 1, r.OperationalMetrics["healthyTargets"])
}

// ═══════════════════════════════════════════════════════
// Storage and messaging
// ═══════════════════════════════════════════════════════

func TestEnrichQueue(t *testing.T) {
	var gotURL string
	c := &awsprov.Clients{SQS: &mockSQSClient{
		GetQueueAttributesFunc: func(_ context.Context, params *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
			gotURL = aws.ToString(params.QueueUrl)
			return &sqs.GetQueueAttributesOutput{Attributes: map[string]string{
				"ApproximateNumberOfMessages": "42",
				"VisibilityTimeout":           "30",
				"FifoQueue":                   "true",
			}}, nil
		},
	}}
	r := &resource.Resource{ARN: "arn:aws:sqs:us-east-1:123456789012:jobs.fifo", Type: "SQS::Queue"}

	require.NoError(t, enrichQueue(context.Background(), c, r))
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123456789012/jobs.fifo", gotURL)
	assert.Equal(t, "available", r.State)
	assert.Equal(t, true, r.StatusDetails["fifo"])
	assert.Equal(t, int64(42), r.OperationalMetrics["approximateNumberOfMessages"])
	assert.Equal(t, int64(30), r.OperationalMetrics["visibilityTimeout"])
	assert.NotContains(t, r.OperationalMetrics, "messageRetentionPeriod")
}

// ═══════════════════════════════════════════════════════
// Security and audit
// ═══════════════════════════════════════════════════════

func TestEnrichLogGroup(t *testing.T) {
	c := &awsprov.Clients{Logs: &mockLogsClient{
		DescribeLogGroupsFunc: func(_ context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
			assert.Equal(t, "/aws/lambda/my-fn", aws.ToString(params.LogGroupNamePrefix))
			return &cloudwatchlogs.DescribeLogGroupsOutput{LogGroups: []cwltypes.LogGroup{
				{LogGroupName: aws.String("/aws/lambda/my-fn-canary")},
				{LogGroupName: aws.String("/aws/lambda/my-fn"), RetentionInDays: aws.Int32(14), StoredBytes: aws.Int64(2048)},
			}}, nil
		},
	}}
	r := &resource.Resource{ARN: "arn:aws:logs:us-east-1:123456789012:log-group:/aws/lambda/my-fn:*", Type: "CloudWatchLogs::LogGroup"}

	require.NoError(t, enrichLogGroup(context.Background(), c, r))
	assert.Equal(t, "available", r.State)
	assert.Equal(t, "14d", r.StatusDetails["retention"])
	assert.Equal(t, int64(2048), r.OperationalMetrics["storedBytes"])
}

func TestEnrichLogGroup_NotFoundMarksError(t *testing.T) {
	e := newTestEngine(&fakeFactory{clients: &awsprov.Clients{Logs: &mockLogsClient{}}})
	e.Register("CloudWatchLogs::LogGroup", EnricherFunc(enrichLogGroup))

	resources := []resource.Resource{{
		ARN:    "arn:aws:logs:us-east-1:123456789012:log-group:/gone:*",
		Type:   "CloudWatchLogs::LogGroup",
		Region: "us-east-1",
	}}

	failed := e.EnrichAll(context.Background(), testCreds(), resources)

	assert.Equal(t, 1, failed)
	assert.Equal(t, resource.StateError, resources[0].State)
	assert.Contains(t, resources[0].StatusDetails["error"], "resource not found")
}
