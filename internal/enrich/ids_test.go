package enrich

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/kartta/internal/normalize"
)

func TestResolveID(t *testing.T) {
	tests := []struct {
		name       string
		arn        string
		typ        string
		wantParent string
		wantID     string
	}{
		{"ec2 instance", "arn:aws:ec2:us-east-1:123456789012:instance/i-0abc", "EC2::Instance", "", "i-0abc"},
		{"ebs volume", "arn:aws:ec2:us-east-1:123456789012:volume/vol-1", "EC2::Volume", "", "vol-1"},
		{"nat gateway", "arn:aws:ec2:us-east-1:123456789012:natgateway/nat-1", "EC2::NatGateway", "", "nat-1"},
		{"lambda", "arn:aws:lambda:us-east-1:123456789012:function:my-fn", "Lambda::Function", "", "my-fn"},
		{"lambda alias", "arn:aws:lambda:us-east-1:123456789012:function:my-fn:live", "Lambda::Function", "", "my-fn"},
		{"rds instance", "arn:aws:rds:us-east-1:123456789012:db:prod-db", "RDS::DBInstance", "", "prod-db"},
		{"rds cluster", "arn:aws:rds:us-east-1:123456789012:cluster:aurora-1", "RDS::DBCluster", "", "aurora-1"},
		{"redshift", "arn:aws:redshift:us-east-1:123456789012:cluster:wh", "Redshift::Cluster", "", "wh"},
		{"log group", "arn:aws:logs:us-east-1:123456789012:log-group:/aws/lambda/my-fn:*", "CloudWatchLogs::LogGroup", "", "/aws/lambda/my-fn"},
		{"ecs service", "arn:aws:ecs:us-east-1:123456789012:service/prod/web", "ECS::Service", "prod", "web"},
		{"ecs service legacy", "arn:aws:ecs:us-east-1:123456789012:service/web", "ECS::Service", "", "web"},
		{"eks nodegroup", "arn:aws:eks:us-east-1:123456789012:nodegroup/prod/workers/abc-123", "EKS::NodeGroup", "prod", "workers"},
		{"eks cluster", "arn:aws:eks:us-east-1:123456789012:cluster/prod", "EKS::Cluster", "", "prod"},
		{"ecr nested name", "arn:aws:ecr:us-east-1:123456789012:repository/team/app", "ECR::Repository", "", "team/app"},
		{"kms key", "arn:aws:kms:us-east-1:123456789012:key/1234abcd-12ab", "KMS::Key", "", "1234abcd-12ab"},
		{"route53", "arn:aws:route53:::hostedzone/Z123", "Route53::HostedZone", "", "Z123"},
		{"iam role with path", "arn:aws:iam::123456789012:role/service-role/runner", "IAM::Role", "", "service-role/runner"},
		{"memorydb", "arn:aws:memorydb:us-east-1:123456789012:cluster/cache", "MemoryDB::Cluster", "", "cache"},
		{"asg", "arn:aws:autoscaling:us-east-1:123456789012:autoScalingGroup:uuid-1:autoScalingGroupName/web-asg", "AutoScaling::AutoScalingGroup", "", "web-asg"},
		{"s3 bucket", "arn:aws:s3:::my-bucket", "S3::Bucket", "", "my-bucket"},
		{"dynamodb table", "arn:aws:dynamodb:us-east-1:123456789012:table/orders", "DynamoDB::Table", "", "orders"},
		{"load balancer", "arn:aws:elasticloadbalancing:us-east-1:123456789012:loadbalancer/app/web/50dc6c495c0c9188", "ELB::LoadBalancer", "", "arn:aws:elasticloadbalancing:us-east-1:123456789012:loadbalancer/app/web/50dc6c495c0c9188"},
		{"trail", "arn:aws:cloudtrail:us-east-1:123456789012:trail/main", "CloudTrail::Trail", "", "arn:aws:cloudtrail:us-east-1:123456789012:trail/main"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveID(tt.arn, tt.typ)
			require.NoError(t, err)
			assert.Equal(t, tt.wantParent, got.Parent)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}

func TestResolveID_Errors(t *testing.T) {
	_, err := resolveID("not-an-arn", "EC2::Instance")
	assert.Error(t, err)

	_, err = resolveID("arn:aws:ec2:us-east-1:123456789012:instance", "EC2::Instance")
	assert.Error(t, err, "slash style without a slash has no identifier")
}

func TestQueueURL(t *testing.T) {
	p, ok := normalize.ParseARN("arn:aws:sqs:eu-west-1:123456789012:jobs")
	require.True(t, ok)
	assert.Equal(t, "https://sqs.eu-west-1.amazonaws.com/123456789012/jobs", queueURL(p))

	p, ok = normalize.ParseARN("arn:aws-cn:sqs:cn-north-1:123456789012:jobs")
	require.True(t, ok)
	assert.Equal(t, "https://sqs.cn-north-1.amazonaws.com.cn/123456789012/jobs", queueURL(p))
}
