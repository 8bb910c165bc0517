package normalize

import "strings"

// canonicalTypes maps service → ARN resource-type key → canonical type.
var canonicalTypes = map[string]map[string]string{
	"ec2": {
		"instance":         "EC2::Instance",
		"volume":           "EC2::Volume",
		"security-group":   "EC2::SecurityGroup",
		"vpc":              "EC2::VPC",
		"subnet":           "EC2::Subnet",
		"internet-gateway": "EC2::InternetGateway",
		"route-table":      "EC2::RouteTable",
		"network-acl":      "EC2::NetworkAcl",
		"elastic-ip":       "EC2::ElasticIP",
		"nat-gateway":      "EC2::NatGateway",
		"natgateway":       "EC2::NatGateway",
		"transit-gateway":  "EC2::TransitGateway",
		"launch-template":  "EC2::LaunchTemplate",
		"key-pair":         "EC2::KeyPair",
		"snapshot":         "EC2::Snapshot",
		"image":            "EC2::Image",
	},
	"rds": {
		"db":              "RDS::DBInstance",
		"cluster":         "RDS::DBCluster",
		"subnet-group":    "RDS::DBSubnetGroup",
		"subgrp":          "RDS::DBSubnetGroup",
		"parameter-group": "RDS::DBParameterGroup",
		"pg":              "RDS::DBParameterGroup",
		"snapshot":        "RDS::DBSnapshot",
	},
	"s3": {
		"bucket": "S3::Bucket",
	},
	"lambda": {
		"function": "Lambda::Function",
	},
	"ecs": {
		"cluster":            "ECS::Cluster",
		"service":            "ECS::Service",
		"task-definition":    "ECS::TaskDefinition",
		"container-instance": "ECS::ContainerInstance",
	},
	"dynamodb": {
		"table": "DynamoDB::Table",
	},
	"sns": {
		"topic": "SNS::Topic",
	},
	"sqs": {
		"queue": "SQS::Queue",
	},
	"elasticloadbalancing": {
		"loadbalancer": "ELB::LoadBalancer",
		"targetgroup":  "ELB::TargetGroup",
	},
	"iam": {
		"role":   "IAM::Role",
		"user":   "IAM::User",
		"group":  "IAM::Group",
		"policy": "IAM::Policy",
	},
	"logs": {
		"log-group": "CloudWatchLogs::LogGroup",
	},
	"cloudwatch": {
		"alarm": "CloudWatch::Alarm",
	},
	"kinesis": {
		"stream": "Kinesis::Stream",
	},
	"elasticsearch": {
		"domain": "OpenSearch::Domain",
	},
	"opensearch": {
		"domain": "OpenSearch::Domain",
	},
	"es": {
		"domain": "OpenSearch::Domain",
	},
	"kafka": {
		"cluster": "MSK::Cluster",
	},
	"redshift": {
		"cluster": "Redshift::Cluster",
	},
	"elasticache": {
		"cluster":           "ElastiCache::Cluster",
		"replication-group": "ElastiCache::ReplicationGroup",
		"replicationgroup":  "ElastiCache::ReplicationGroup",
	},
	"memorydb": {
		"cluster": "MemoryDB::Cluster",
	},
	"apigateway": {
		"restapi":  "APIGateway::RestApi",
		"restapis": "APIGateway::RestApi",
		"stage":    "APIGateway::Stage",
		"stages":   "APIGateway::Stage",
	},
	"route53": {
		"hostedzone": "Route53::HostedZone",
	},
	"cloudfront": {
		"distribution": "CloudFront::Distribution",
	},
	"secretsmanager": {
		"secret": "SecretsManager::Secret",
	},
	"ssm": {
		"parameter": "SSM::Parameter",
		"document":  "SSM::Document",
	},
	"glue": {
		"database": "Glue::Database",
		"table":    "Glue::Table",
		"job":      "Glue::Job",
		"crawler":  "Glue::Crawler",
	},
	"stepfunctions": {
		"statemachine": "StepFunctions::StateMachine",
	},
	"states": {
		"stateMachine": "StepFunctions::StateMachine",
	},
	"batch": {
		"job-queue":           "Batch::JobQueue",
		"job-definition":      "Batch::JobDefinition",
		"compute-environment": "Batch::ComputeEnvironment",
	},
	"elasticfilesystem": {
		"file-system": "EFS::FileSystem",
	},
	"efs": {
		"file-system": "EFS::FileSystem",
	},
	"eks": {
		"cluster":   "EKS::Cluster",
		"nodegroup": "EKS::NodeGroup",
	},
	"ecr": {
		"repository": "ECR::Repository",
	},
	"kms": {
		"key": "KMS::Key",
	},
	"autoscaling": {
		"autoScalingGroup": "AutoScaling::AutoScalingGroup",
	},
	"cloudtrail": {
		"trail": "CloudTrail::Trail",
	},
}

// bareResourceTypes names the type key for services whose ARNs carry the
// resource name without a type prefix (arn:aws:s3:::bucket-name).
var bareResourceTypes = map[string]string{
	"s3":  "bucket",
	"sqs": "queue",
	"sns": "topic",
}

// NormalizeType maps a service and ARN resource-type key to a canonical
// "Service::Type" string. Unknown pairs fall back to SERVICE::PascalKey.
func NormalizeType(service, typeKey string) string {
	if byKey, ok := canonicalTypes[service]; ok {
		if canonical, ok := byKey[typeKey]; ok {
			return canonical
		}
	}
	return strings.ToUpper(service) + "::" + pascalCase(typeKey)
}

// pascalCase converts a kebab-case key to PascalCase ("nat-gateway" → "NatGateway").
func pascalCase(key string) string {
	var b strings.Builder
	for _, word := range strings.Split(key, "-") {
		if word == "" {
			continue
		}
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteString(word[1:])
	}
	return b.String()
}

// supportedResourceTypes is the tag-search type filter list.
var supportedResourceTypes = []string{
	// EC2
	"ec2:instance",
	"ec2:volume",
	"ec2:security-group",
	"ec2:vpc",
	"ec2:subnet",
	"ec2:internet-gateway",
	"ec2:route-table",
	"ec2:network-acl",
	"ec2:natgateway",
	"ec2:transit-gateway",
	"ec2:launch-template",
	"ec2:key-pair",
	"ec2:snapshot",
	"ec2:image",

	// RDS
	"rds:db",
	"rds:cluster",
	"rds:subgrp",
	"rds:pg",
	"rds:snapshot",
	"rds:cluster-snapshot",

	"s3:bucket",
	"lambda:function",

	// ECS
	"ecs:cluster",
	"ecs:service",
	"ecs:task-definition",

	"dynamodb:table",
	"sns:topic",
	"sqs:queue",

	"elasticloadbalancing:loadbalancer",
	"elasticloadbalancing:targetgroup",

	"cloudformation:stack",

	// IAM
	"iam:role",
	"iam:user",
	"iam:group",
	"iam:policy",

	// Monitoring and events
	"logs:log-group",
	"cloudwatch:alarm",
	"events:rule",

	"kinesis:stream",
	"firehose:deliverystream",
	"es:domain",
	"redshift:cluster",

	"elasticache:cluster",
	"elasticache:replicationgroup",
	"memorydb:cluster",

	"apigateway:restapis",
	"apigateway:stages",

	"route53:hostedzone",
	"cloudfront:distribution",
	"secretsmanager:secret",

	"ssm:parameter",
	"ssm:document",

	"eks:cluster",
	"eks:nodegroup",
	"ecr:repository",
	"kms:key",
	"autoscaling:autoScalingGroup",
	"cloudtrail:trail",

	// Developer tools
	"codebuild:project",
	"codecommit:repository",
	"codedeploy:application",
	"codepipeline:pipeline",
}

// SupportedResourceTypes returns the tag-search type filters in scan order.
// The returned slice is a copy.
func SupportedResourceTypes() []string {
	out := make([]string, len(supportedResourceTypes))
	copy(out, supportedResourceTypes)
	return out
}
