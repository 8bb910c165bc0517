package enrich

// registerDefaults wires the built-in enrichers.
func registerDefaults(e *Engine) {
	for typ, fn := range map[string]EnricherFunc{
		// Compute
		"EC2::Instance":                 enrichEC2Instance,
		"Lambda::Function":              enrichLambdaFunction,
		"ECS::Service":                  enrichECSService,
		"ECS::Cluster":                  enrichECSCluster,
		"EKS::Cluster":                  enrichEKSCluster,
		"EKS::NodeGroup":                enrichEKSNodeGroup,
		"ECR::Repository":               enrichECRRepository,
		"AutoScaling::AutoScalingGroup": enrichAutoScalingGroup,

		// Databases
		"RDS::DBInstance":   enrichRDSInstance,
		"RDS::DBCluster":    enrichRDSCluster,
		"DynamoDB::Table":   enrichDynamoDBTable,
		"Redshift::Cluster": enrichRedshiftCluster,
		"MemoryDB::Cluster": enrichMemoryDBCluster,

		// Network
		"ELB::LoadBalancer":   enrichLoadBalancer,
		"ELB::TargetGroup":    enrichTargetGroup,
		"Route53::HostedZone": enrichHostedZone,
		"EC2::VPC":            enrichVPC,
		"EC2::NatGateway":     enrichNatGateway,

		// Storage and messaging
		"EC2::Volume": enrichVolume,
		"S3::Bucket":  enrichBucket,
		"SQS::Queue":  enrichQueue,

		// Security and audit
		"KMS::Key":                 enrichKMSKey,
		"IAM::Role":                enrichIAMRole,
		"CloudTrail::Trail":        enrichTrail,
		"CloudWatchLogs::LogGroup": enrichLogGroup,
	} {
		e.Register(typ, fn)
	}
}
