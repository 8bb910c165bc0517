package enrich

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"

	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/pkg/resource"
)

func enrichKMSKey(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.KMS.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("describe key %s: %w", id.ID, err)
	}
	if out.KeyMetadata == nil {
		return fmt.Errorf("%w: key %s", errNotFound, id.ID)
	}

	md := out.KeyMetadata
	setStatus(r, string(md.KeyState), md.KeyState == kmstypes.KeyStateEnabled)

	r.SetDetail("keyUsage", string(md.KeyUsage))
	r.SetDetail("keyManager", string(md.KeyManager))
	r.SetDetail("keySpec", string(md.KeySpec))
	r.SetDetail("multiRegion", aws.ToBool(md.MultiRegion))
	r.SetDetail("description", aws.ToString(md.Description))
	if md.DeletionDate != nil {
		r.SetDetail("deletionDate", md.DeletionDate.UTC().Format(time.RFC3339))
	}
	return nil
}

func enrichIAMRole(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}
	// role/path/name: GetRole takes the bare name
	name := path.Base(id.ID)

	out, err := c.IAM.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return fmt.Errorf("get role %s: %w", name, err)
	}
	if out.Role == nil {
		return fmt.Errorf("%w: role %s", errNotFound, name)
	}

	role := out.Role
	setStatus(r, "available", true)

	r.SetDetail("path", aws.ToString(role.Path))
	r.SetDetail("description", aws.ToString(role.Description))
	if role.CreateDate != nil {
		r.SetDetail("createDate", role.CreateDate.UTC().Format(time.RFC3339))
	}
	r.SetMetric("maxSessionDuration", aws.ToInt32(role.MaxSessionDuration))
	if lu := role.RoleLastUsed; lu != nil && lu.LastUsedDate != nil {
		r.SetMetric("lastUsedDate", lu.LastUsedDate.UTC().Format(time.RFC3339))
		r.SetMetric("lastUsedRegion", aws.ToString(lu.Region))
	}
	return nil
}

// enrichTrail: healthy iff logging with no delivery error.
func enrichTrail(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	status, err := c.CloudTrail.GetTrailStatus(ctx, &cloudtrail.GetTrailStatusInput{Name: aws.String(r.ARN)})
	if err != nil {
		return fmt.Errorf("get trail status: %w", err)
	}

	logging := aws.ToBool(status.IsLogging)
	deliveryErr := aws.ToString(status.LatestDeliveryError)
	state := "stopped"
	if logging {
		state = "logging"
	}
	r.State = state
	r.IsActive = logging
	r.Health = healthIf(logging && deliveryErr == "")
	if deliveryErr != "" {
		r.SetDetail("latestDeliveryError", deliveryErr)
	}
	if status.LatestDeliveryTime != nil {
		r.SetMetric("latestDeliveryTime", status.LatestDeliveryTime.UTC().Format(time.RFC3339))
	}

	trail, err := c.CloudTrail.GetTrail(ctx, &cloudtrail.GetTrailInput{Name: aws.String(r.ARN)})
	if err != nil {
		return fmt.Errorf("get trail: %w", err)
	}
	if t := trail.Trail; t != nil {
		r.SetDetail("multiRegion", aws.ToBool(t.IsMultiRegionTrail))
		r.SetDetail("organizationTrail", aws.ToBool(t.IsOrganizationTrail))
		r.SetDetail("logFileValidation", aws.ToBool(t.LogFileValidationEnabled))
		r.SetDetail("s3BucketName", aws.ToString(t.S3BucketName))
		r.SetDetail("homeRegion", aws.ToString(t.HomeRegion))
	}
	return nil
}

func enrichLogGroup(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.Logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{LogGroupNamePrefix: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("describe log groups %s: %w", id.ID, err)
	}
	for _, lg := range out.LogGroups {
		if aws.ToString(lg.LogGroupName) != id.ID {
			continue
		}
		setStatus(r, "available", true)

		retention := "never"
		if lg.RetentionInDays != nil {
			retention = fmt.Sprintf("%dd", *lg.RetentionInDays)
		}
		r.SetDetail("retention", retention)
		r.SetDetail("encrypted", aws.ToString(lg.KmsKeyId) != "")
		if lg.CreationTime != nil {
			r.SetDetail("creationTime", time.UnixMilli(*lg.CreationTime).UTC().Format(time.RFC3339))
		}
		r.SetMetric("storedBytes", aws.ToInt64(lg.StoredBytes))
		r.SetMetric("metricFilterCount", aws.ToInt32(lg.MetricFilterCount))
		return nil
	}
	return fmt.Errorf("%w: log group %s", errNotFound, id.ID)
}
