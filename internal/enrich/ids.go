package enrich

import (
	"fmt"
	"strings"

	"github.com/yairfalse/kartta/internal/normalize"
)

// idStyle names how a provider identifier is cut out of an ARN descriptor.
type idStyle int

const (
	// styleSlash takes everything after the first '/': instance/i-1 → i-1.
	styleSlash idStyle = iota
	// styleColon takes the segment after the first ':': function:fn → fn.
	styleColon
	// styleNested takes parent and child: service/cluster/svc → cluster, svc.
	styleNested
	// styleFullARN passes the ARN through unchanged.
	styleFullARN
	// styleBare takes the descriptor itself, or the segment after a type prefix.
	styleBare
)

var idStyles = map[string]idStyle{
	"EC2::Instance":                 styleSlash,
	"EC2::Volume":                   styleSlash,
	"EC2::NatGateway":               styleSlash,
	"EC2::VPC":                      styleSlash,
	"ECS::Cluster":                  styleSlash,
	"EKS::Cluster":                  styleSlash,
	"ECR::Repository":               styleSlash,
	"KMS::Key":                      styleSlash,
	"Route53::HostedZone":           styleSlash,
	"IAM::Role":                     styleSlash,
	"MemoryDB::Cluster":             styleSlash,
	"AutoScaling::AutoScalingGroup": styleSlash,
	"Lambda::Function":              styleColon,
	"RDS::DBInstance":               styleColon,
	"RDS::DBCluster":                styleColon,
	"Redshift::Cluster":             styleColon,
	"CloudWatchLogs::LogGroup":      styleColon,
	"ECS::Service":                  styleNested,
	"EKS::NodeGroup":                styleNested,
	"ELB::LoadBalancer":             styleFullARN,
	"ELB::TargetGroup":              styleFullARN,
	"SQS::Queue":                    styleFullARN,
	"CloudTrail::Trail":             styleFullARN,
	"S3::Bucket":                    styleBare,
	"DynamoDB::Table":               styleBare,
}

// ref is the provider-side identity of a resource.
type ref struct {
	Parent string // cluster name for nested identifiers
	ID     string
	ARN    normalize.Parsed
}

// resolveID extracts the identifier used by describe calls for resourceType.
func resolveID(rawARN, resourceType string) (ref, error) {
	p, ok := normalize.ParseARN(rawARN)
	if !ok {
		return ref{}, fmt.Errorf("malformed arn %q", rawARN)
	}

	style, ok := idStyles[resourceType]
	if !ok {
		style = styleSlash
	}

	out := ref{ARN: p}
	d := p.Descriptor

	switch style {
	case styleSlash:
		_, out.ID, _ = strings.Cut(d, "/")
	case styleColon:
		_, rest, _ := strings.Cut(d, ":")
		out.ID, _, _ = strings.Cut(rest, ":")
	case styleNested:
		parts := strings.Split(d, "/")
		switch {
		case len(parts) >= 3:
			out.Parent, out.ID = parts[1], parts[2]
		case len(parts) == 2:
			out.ID = parts[1]
		}
	case styleFullARN:
		out.ID = rawARN
	case styleBare:
		out.ID = d
		if _, after, found := strings.Cut(d, "/"); found {
			out.ID, _, _ = strings.Cut(after, "/")
		}
	}

	if out.ID == "" {
		return ref{}, fmt.Errorf("no %s identifier in arn %q", resourceType, rawARN)
	}
	return out, nil
}

// queueURL derives an SQS queue URL from its ARN.
func queueURL(p normalize.Parsed) string {
	host := "amazonaws.com"
	if p.Partition == "aws-cn" {
		host = "amazonaws.com.cn"
	}
	return fmt.Sprintf("https://sqs.%s.%s/%s/%s", p.Region, host, p.AccountID, p.Descriptor)
}
