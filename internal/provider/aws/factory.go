// Package aws builds per-account, per-region AWS SDK clients for discovery
// and enrichment.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	rgt "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/internal/tagging"
)

// Clients holds the service clients of one account in one region.
type Clients struct {
	Region    string
	AccountID string

	EC2         EC2API
	RDS         RDSAPI
	Lambda      LambdaAPI
	ECS         ECSAPI
	ELB         ELBAPI
	DynamoDB    DynamoDBAPI
	SQS         SQSAPI
	S3          S3API
	EKS         EKSAPI
	ECR         ECRAPI
	Logs        CloudWatchLogsAPI
	Redshift    RedshiftAPI
	MemoryDB    MemoryDBAPI
	KMS         KMSAPI
	Route53     Route53API
	IAM         IAMAPI
	AutoScaling AutoScalingAPI
	CloudTrail  CloudTrailAPI
}

// Factory builds SDK configs from explicit account credentials. Nothing is
// read from or written to process-wide credential state.
type Factory struct {
	loadConfig func(ctx context.Context, optFns ...func(*config.LoadOptions) error) (aws.Config, error)
}

// NewFactory creates a factory backed by config.LoadDefaultConfig.
func NewFactory() *Factory {
	return &Factory{loadConfig: config.LoadDefaultConfig}
}

// Config returns an SDK config bound to creds and region.
func (f *Factory) Config(ctx context.Context, creds account.Credentials, region string) (aws.Config, error) {
	if region == "" {
		region = creds.DefaultRegion
	}
	cfg, err := f.loadConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	return cfg, nil
}

// Tagging returns a Resource Groups Tagging API client.
func (f *Factory) Tagging(ctx context.Context, creds account.Credentials, region string) (tagging.API, error) {
	cfg, err := f.Config(ctx, creds, region)
	if err != nil {
		return nil, err
	}
	return rgt.NewFromConfig(cfg), nil
}

// Identity returns an STS client.
func (f *Factory) Identity(ctx context.Context, creds account.Credentials, region string) (STSAPI, error) {
	cfg, err := f.Config(ctx, creds, region)
	if err != nil {
		return nil, err
	}
	return sts.NewFromConfig(cfg), nil
}

// Enrichment returns the describe clients used by enrichers.
func (f *Factory) Enrichment(ctx context.Context, creds account.Credentials, region string) (*Clients, error) {
	cfg, err := f.Config(ctx, creds, region)
	if err != nil {
		return nil, err
	}

	return &Clients{
		Region:      cfg.Region,
		AccountID:   creds.AccountID,
		EC2:         ec2.NewFromConfig(cfg),
		RDS:         rds.NewFromConfig(cfg),
		Lambda:      lambda.NewFromConfig(cfg),
		ECS:         ecs.NewFromConfig(cfg),
		ELB:         elasticloadbalancingv2.NewFromConfig(cfg),
		DynamoDB:    dynamodb.NewFromConfig(cfg),
		SQS:         sqs.NewFromConfig(cfg),
		S3:          s3.NewFromConfig(cfg),
		EKS:         eks.NewFromConfig(cfg),
		ECR:         ecr.NewFromConfig(cfg),
		Logs:        cloudwatchlogs.NewFromConfig(cfg),
		Redshift:    redshift.NewFromConfig(cfg),
		MemoryDB:    memorydb.NewFromConfig(cfg),
		KMS:         kms.NewFromConfig(cfg),
		Route53:     route53.NewFromConfig(cfg),
		IAM:         iam.NewFromConfig(cfg),
		AutoScaling: autoscaling.NewFromConfig(cfg),
		CloudTrail:  cloudtrail.NewFromConfig(cfg),
	}, nil
}
