package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/rs/zerolog/log"

	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/pkg/resource"
)

// enrichLoadBalancer: healthy iff the state code is active. Target group
// counts are best effort.
func enrichLoadBalancer(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	out, err := c.ELB.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{LoadBalancerArns: []string{r.ARN}})
	if err != nil {
		return fmt.Errorf("describe load balancer: %w", err)
	}
	if len(out.LoadBalancers) == 0 {
		return fmt.Errorf("%w: load balancer %s", errNotFound, r.ARN)
	}

	lb := out.LoadBalancers[0]
	var code string
	if lb.State != nil {
		code = string(lb.State.Code)
	}
	setStatus(r, code, code == string(elbv2types.LoadBalancerStateEnumActive))

	zones := make([]string, 0, len(lb.AvailabilityZones))
	for _, az := range lb.AvailabilityZones {
		zones = append(zones, aws.ToString(az.ZoneName))
	}
	r.SetDetail("type", string(lb.Type))
	r.SetDetail("scheme", string(lb.Scheme))
	r.SetDetail("ipAddressType", string(lb.IpAddressType))
	r.SetDetail("dnsName", aws.ToString(lb.DNSName))
	r.SetDetail("canonicalHostedZoneId", aws.ToString(lb.CanonicalHostedZoneId))
	r.SetDetail("availabilityZones", zones)
	if lb.CreatedTime != nil {
		r.SetDetail("createdTime", lb.CreatedTime.UTC().Format(time.RFC3339))
	}

	r.SetMetric("securityGroups", len(lb.SecurityGroups))
	tgs, err := c.ELB.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{LoadBalancerArn: aws.String(r.ARN)})
	if err != nil {
		log.Debug().Err(err).Str("arn", r.ARN).Msg("target groups unavailable")
		return nil
	}
	r.SetMetric("targetGroupCount", len(tgs.TargetGroups))
	return nil
}

// enrichTargetGroup: healthy iff at least one target is registered and all
// registered targets are healthy.
func enrichTargetGroup(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	out, err := c.ELB.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{TargetGroupArns: []string{r.ARN}})
	if err != nil {
		return fmt.Errorf("describe target group: %w", err)
	}
	if len(out.TargetGroups) == 0 {
		return fmt.Errorf("%w: target group %s", errNotFound, r.ARN)
	}
	tg := out.TargetGroups[0]

	health, err := c.ELB.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{TargetGroupArn: aws.String(r.ARN)})
	if err != nil {
		return fmt.Errorf("describe target health: %w", err)
	}

	counts := make(map[string]int)
	healthy := 0
	for _, d := range health.TargetHealthDescriptions {
		state := "unknown"
		if d.TargetHealth != nil {
			state = string(d.TargetHealth.State)
		}
		counts[state]++
		if state == string(elbv2types.TargetHealthStateEnumHealthy) {
			healthy++
		}
	}
	total := len(health.TargetHealthDescriptions)

	attached := len(tg.LoadBalancerArns) > 0
	state := "unattached"
	if attached {
		state = "attached"
	}
	r.State = state
	r.IsActive = attached
	switch {
	case total == 0:
		r.Health = resource.HealthUnknown
	default:
		r.Health = healthIf(healthy == total)
	}

	r.SetDetail("protocol", string(tg.Protocol))
	r.SetDetail("port", aws.ToInt32(tg.Port))
	r.SetDetail("targetType", string(tg.TargetType))
	r.SetDetail("vpcId", aws.ToString(tg.VpcId))
	r.SetDetail("healthCheckPath", aws.ToString(tg.HealthCheckPath))

	r.SetMetric("targets", total)
	r.SetMetric("healthyTargets", healthy)
	r.SetMetric("targetStates", counts)
	r.SetMetric("loadBalancers", len(tg.LoadBalancerArns))
	return nil
}

func enrichHostedZone(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.Route53.GetHostedZone(ctx, &route53.GetHostedZoneInput{Id: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("get hosted zone %s: %w", id.ID, err)
	}
	if out.HostedZone == nil {
		return fmt.Errorf("%w: hosted zone %s", errNotFound, id.ID)
	}

	zone := out.HostedZone
	setStatus(r, "available", true)

	private := false
	if zone.Config != nil {
		private = zone.Config.PrivateZone
		r.SetDetail("comment", aws.ToString(zone.Config.Comment))
	}
	r.SetDetail("name", aws.ToString(zone.Name))
	r.SetDetail("privateZone", private)

	r.SetMetric("resourceRecordSetCount", aws.ToInt64(zone.ResourceRecordSetCount))
	r.SetMetric("associatedVpcs", len(out.VPCs))
	return nil
}

func enrichVPC(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.EC2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{id.ID}})
	if err != nil {
		return fmt.Errorf("describe vpc %s: %w", id.ID, err)
	}
	if len(out.Vpcs) == 0 {
		return fmt.Errorf("%w: vpc %s", errNotFound, id.ID)
	}

	vpc := out.Vpcs[0]
	setStatus(r, string(vpc.State), vpc.State == ec2types.VpcStateAvailable)

	r.SetDetail("cidrBlock", aws.ToString(vpc.CidrBlock))
	r.SetDetail("isDefault", aws.ToBool(vpc.IsDefault))
	r.SetDetail("instanceTenancy", string(vpc.InstanceTenancy))
	return nil
}

func enrichNatGateway(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.EC2.DescribeNatGateways(ctx, &ec2.DescribeNatGatewaysInput{NatGatewayIds: []string{id.ID}})
	if err != nil {
		return fmt.Errorf("describe nat gateway %s: %w", id.ID, err)
	}
	if len(out.NatGateways) == 0 {
		return fmt.Errorf("%w: nat gateway %s", errNotFound, id.ID)
	}

	nat := out.NatGateways[0]
	setStatus(r, string(nat.State), nat.State == ec2types.NatGatewayStateAvailable)

	ips := make([]string, 0, len(nat.NatGatewayAddresses))
	for _, a := range nat.NatGatewayAddresses {
		if ip := aws.ToString(a.PublicIp); ip != "" {
			ips = append(ips, ip)
		}
	}
	r.SetDetail("vpcId", aws.ToString(nat.VpcId))
	r.SetDetail("subnetId", aws.ToString(nat.SubnetId))
	r.SetDetail("connectivityType", string(nat.ConnectivityType))
	r.SetDetail("publicIps", ips)
	if nat.FailureMessage != nil {
		r.SetDetail("failureMessage", aws.ToString(nat.FailureMessage))
	}
	return nil
}
