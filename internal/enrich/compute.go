package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/eks"
	ekstypes "github.com/aws/aws-sdk-go-v2/service/eks/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/pkg/resource"
)

// enrichEC2Instance: healthy iff both system and instance checks are ok.
func enrichEC2Instance(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id.ID}})
	if err != nil {
		return fmt.Errorf("describe instance %s: %w", id.ID, err)
	}
	var instance *ec2types.Instance
	for _, res := range out.Reservations {
		if len(res.Instances) > 0 {
			instance = &res.Instances[0]
			break
		}
	}
	if instance == nil {
		return fmt.Errorf("%w: instance %s", errNotFound, id.ID)
	}

	var state string
	if instance.State != nil {
		state = string(instance.State.Name)
	}
	r.State = orUnknown(state)
	r.IsActive = state == string(ec2types.InstanceStateNameRunning)

	platform := string(instance.Platform)
	if platform == "" {
		platform = "linux"
	}
	var az string
	if instance.Placement != nil {
		az = aws.ToString(instance.Placement.AvailabilityZone)
	}
	r.SetDetail("instanceType", string(instance.InstanceType))
	r.SetDetail("platform", platform)
	r.SetDetail("publicIp", aws.ToString(instance.PublicIpAddress))
	r.SetDetail("privateIp", aws.ToString(instance.PrivateIpAddress))
	r.SetDetail("availabilityZone", az)

	statusOut, err := c.EC2.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{InstanceIds: []string{id.ID}})
	if err != nil {
		return fmt.Errorf("describe instance status %s: %w", id.ID, err)
	}
	if len(statusOut.InstanceStatuses) == 0 {
		if r.IsActive {
			r.Health = resource.HealthHealthy
		} else {
			r.Health = resource.HealthUnknown
		}
		return nil
	}

	st := statusOut.InstanceStatuses[0]
	var systemStatus, instanceStatus string
	if st.SystemStatus != nil {
		systemStatus = string(st.SystemStatus.Status)
	}
	if st.InstanceStatus != nil {
		instanceStatus = string(st.InstanceStatus.Status)
	}
	r.Health = healthIf(systemStatus == "ok" && instanceStatus == "ok")
	r.SetDetail("systemStatus", systemStatus)
	r.SetDetail("instanceStatus", instanceStatus)
	return nil
}

func enrichLambdaFunction(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	fn, err := c.Lambda.GetFunctionConfiguration(ctx, &lambda.GetFunctionConfigurationInput{FunctionName: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("get function configuration %s: %w", id.ID, err)
	}

	setStatus(r, string(fn.State), fn.State == lambdatypes.StateActive)

	var arch string
	if len(fn.Architectures) > 0 {
		arch = string(fn.Architectures[0])
	}
	r.SetDetail("runtime", string(fn.Runtime))
	r.SetDetail("timeout", aws.ToInt32(fn.Timeout))
	r.SetDetail("memorySize", aws.ToInt32(fn.MemorySize))
	r.SetDetail("codeSize", fn.CodeSize)
	r.SetDetail("lastModified", aws.ToString(fn.LastModified))
	r.SetDetail("version", aws.ToString(fn.Version))
	r.SetDetail("architecture", arch)

	envVars := 0
	if fn.Environment != nil {
		envVars = len(fn.Environment.Variables)
	}
	r.SetMetric("lastUpdateStatus", string(fn.LastUpdateStatus))
	r.SetMetric("packageType", string(fn.PackageType))
	r.SetMetric("environment", envVars)
	return nil
}

// enrichECSService: healthy iff running == desired and running > 0.
func enrichECSService(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}
	cluster := id.Parent
	if cluster == "" {
		cluster = "default"
	}

	out, err := c.ECS.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{id.ID},
	})
	if err != nil {
		return fmt.Errorf("describe service %s/%s: %w", cluster, id.ID, err)
	}
	if len(out.Services) == 0 {
		return fmt.Errorf("%w: service %s/%s", errNotFound, cluster, id.ID)
	}

	svc := out.Services[0]
	status := aws.ToString(svc.Status)
	r.State = orUnknown(status)
	r.IsActive = status == "ACTIVE"
	r.Health = healthIf(svc.RunningCount == svc.DesiredCount && svc.RunningCount > 0)

	r.SetDetail("taskDefinition", aws.ToString(svc.TaskDefinition))
	r.SetDetail("clusterArn", aws.ToString(svc.ClusterArn))
	r.SetDetail("launchType", string(svc.LaunchType))
	r.SetDetail("platform", aws.ToString(svc.PlatformVersion))
	if svc.CreatedAt != nil {
		r.SetDetail("createdAt", svc.CreatedAt.UTC().Format(time.RFC3339))
	}

	r.SetMetric("runningCount", svc.RunningCount)
	r.SetMetric("desiredCount", svc.DesiredCount)
	r.SetMetric("pendingCount", svc.PendingCount)
	if svc.HealthCheckGracePeriodSeconds != nil {
		r.SetMetric("healthCheckGracePeriodSeconds", *svc.HealthCheckGracePeriodSeconds)
	}
	return nil
}

func enrichECSCluster(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.ECS.DescribeClusters(ctx, &ecs.DescribeClustersInput{Clusters: []string{r.ARN}})
	if err != nil {
		return fmt.Errorf("describe cluster %s: %w", id.ID, err)
	}
	if len(out.Clusters) == 0 {
		return fmt.Errorf("%w: cluster %s", errNotFound, id.ID)
	}

	cl := out.Clusters[0]
	status := aws.ToString(cl.Status)
	setStatus(r, status, status == "ACTIVE")

	r.SetMetric("runningTasksCount", cl.RunningTasksCount)
	r.SetMetric("pendingTasksCount", cl.PendingTasksCount)
	r.SetMetric("activeServicesCount", cl.ActiveServicesCount)
	r.SetMetric("registeredContainerInstancesCount", cl.RegisteredContainerInstancesCount)
	return nil
}

// enrichEKSCluster: unhealthy when the cluster reports health issues.
func enrichEKSCluster(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.EKS.DescribeCluster(ctx, &eks.DescribeClusterInput{Name: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("describe eks cluster %s: %w", id.ID, err)
	}
	if out.Cluster == nil {
		return fmt.Errorf("%w: eks cluster %s", errNotFound, id.ID)
	}

	cl := out.Cluster
	issues := 0
	if cl.Health != nil {
		issues = len(cl.Health.Issues)
	}
	active := cl.Status == ekstypes.ClusterStatusActive
	r.State = orUnknown(string(cl.Status))
	r.IsActive = active
	r.Health = healthIf(active && issues == 0)

	r.SetDetail("version", aws.ToString(cl.Version))
	r.SetDetail("platformVersion", aws.ToString(cl.PlatformVersion))
	r.SetDetail("endpoint", aws.ToString(cl.Endpoint))
	r.SetMetric("healthIssues", issues)
	return nil
}

func enrichEKSNodeGroup(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}
	if id.Parent == "" {
		return fmt.Errorf("no cluster in nodegroup arn %q", r.ARN)
	}

	out, err := c.EKS.DescribeNodegroup(ctx, &eks.DescribeNodegroupInput{
		ClusterName:   aws.String(id.Parent),
		NodegroupName: aws.String(id.ID),
	})
	if err != nil {
		return fmt.Errorf("describe nodegroup %s/%s: %w", id.Parent, id.ID, err)
	}
	if out.Nodegroup == nil {
		return fmt.Errorf("%w: nodegroup %s/%s", errNotFound, id.Parent, id.ID)
	}

	ng := out.Nodegroup
	issues := 0
	if ng.Health != nil {
		issues = len(ng.Health.Issues)
	}
	active := ng.Status == ekstypes.NodegroupStatusActive
	r.State = orUnknown(string(ng.Status))
	r.IsActive = active
	r.Health = healthIf(active && issues == 0)

	r.SetDetail("clusterName", id.Parent)
	r.SetDetail("instanceTypes", ng.InstanceTypes)
	r.SetDetail("capacityType", string(ng.CapacityType))
	r.SetDetail("version", aws.ToString(ng.Version))
	if sc := ng.ScalingConfig; sc != nil {
		r.SetMetric("minSize", aws.ToInt32(sc.MinSize))
		r.SetMetric("maxSize", aws.ToInt32(sc.MaxSize))
		r.SetMetric("desiredSize", aws.ToInt32(sc.DesiredSize))
	}
	r.SetMetric("healthIssues", issues)
	return nil
}

func enrichECRRepository(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.ECR.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{RepositoryNames: []string{id.ID}})
	if err != nil {
		return fmt.Errorf("describe repository %s: %w", id.ID, err)
	}
	if len(out.Repositories) == 0 {
		return fmt.Errorf("%w: repository %s", errNotFound, id.ID)
	}

	repo := out.Repositories[0]
	setStatus(r, "available", true)

	r.SetDetail("repositoryUri", aws.ToString(repo.RepositoryUri))
	r.SetDetail("imageTagMutability", string(repo.ImageTagMutability))
	if repo.ImageScanningConfiguration != nil {
		r.SetDetail("scanOnPush", repo.ImageScanningConfiguration.ScanOnPush)
	}
	if repo.EncryptionConfiguration != nil {
		r.SetDetail("encryptionType", string(repo.EncryptionConfiguration.EncryptionType))
	}
	if repo.CreatedAt != nil {
		r.SetDetail("createdAt", repo.CreatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// enrichAutoScalingGroup: healthy iff every instance is Healthy and the
// group holds its desired capacity.
func enrichAutoScalingGroup(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.AutoScaling.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{id.ID},
	})
	if err != nil {
		return fmt.Errorf("describe auto scaling group %s: %w", id.ID, err)
	}
	if len(out.AutoScalingGroups) == 0 {
		return fmt.Errorf("%w: auto scaling group %s", errNotFound, id.ID)
	}

	asg := out.AutoScalingGroups[0]
	healthy := 0
	for _, inst := range asg.Instances {
		if aws.ToString(inst.HealthStatus) == "Healthy" {
			healthy++
		}
	}
	desired := aws.ToInt32(asg.DesiredCapacity)

	// Status is only set while the group is being deleted.
	status := aws.ToString(asg.Status)
	if status == "" {
		status = "active"
	}
	r.State = status
	r.IsActive = asg.Status == nil
	r.Health = healthIf(r.IsActive && healthy == len(asg.Instances) && int32(healthy) >= desired)

	r.SetDetail("healthCheckType", aws.ToString(asg.HealthCheckType))
	if asg.LaunchTemplate != nil {
		r.SetDetail("launchTemplate", aws.ToString(asg.LaunchTemplate.LaunchTemplateName))
	}
	r.SetMetric("minSize", aws.ToInt32(asg.MinSize))
	r.SetMetric("maxSize", aws.ToInt32(asg.MaxSize))
	r.SetMetric("desiredCapacity", desired)
	r.SetMetric("instanceCount", len(asg.Instances))
	r.SetMetric("healthyInstances", healthy)
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
