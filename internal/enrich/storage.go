package enrich

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/pkg/resource"
)

// enrichVolume: a volume is active while attached.
func enrichVolume(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.EC2.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{VolumeIds: []string{id.ID}})
	if err != nil {
		return fmt.Errorf("describe volume %s: %w", id.ID, err)
	}
	if len(out.Volumes) == 0 {
		return fmt.Errorf("%w: volume %s", errNotFound, id.ID)
	}

	vol := out.Volumes[0]
	r.State = orUnknown(string(vol.State))
	r.IsActive = vol.State == ec2types.VolumeStateInUse
	r.Health = healthIf(vol.State == ec2types.VolumeStateInUse || vol.State == ec2types.VolumeStateAvailable)

	r.SetDetail("volumeType", string(vol.VolumeType))
	r.SetDetail("availabilityZone", aws.ToString(vol.AvailabilityZone))
	r.SetDetail("encrypted", aws.ToBool(vol.Encrypted))

	r.SetMetric("sizeGiB", aws.ToInt32(vol.Size))
	r.SetMetric("iops", aws.ToInt32(vol.Iops))
	r.SetMetric("attachments", len(vol.Attachments))
	return nil
}

func enrichBucket(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	if _, err := c.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(id.ID)}); err != nil {
		return fmt.Errorf("head bucket %s: %w", id.ID, err)
	}
	setStatus(r, "available", true)

	versioning, err := c.S3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("get bucket versioning %s: %w", id.ID, err)
	}
	status := string(versioning.Status)
	if status == "" {
		status = "Disabled"
	}
	r.SetDetail("versioning", status)
	r.SetDetail("mfaDelete", string(versioning.MFADelete))
	return nil
}

func enrichQueue(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}
	url := queueURL(id.ARN)

	out, err := c.SQS.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameAll},
	})
	if err != nil {
		return fmt.Errorf("get queue attributes %s: %w", url, err)
	}
	attrs := out.Attributes
	setStatus(r, "available", true)

	r.SetDetail("queueUrl", url)
	r.SetDetail("fifo", attrs[string(sqstypes.QueueAttributeNameFifoQueue)] == "true")
	r.SetDetail("hasRedrivePolicy", attrs[string(sqstypes.QueueAttributeNameRedrivePolicy)] != "")

	for metric, attr := range map[string]sqstypes.QueueAttributeName{
		"approximateNumberOfMessages":           sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		"approximateNumberOfMessagesNotVisible": sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		"visibilityTimeout":                     sqstypes.QueueAttributeNameVisibilityTimeout,
		"messageRetentionPeriod":                sqstypes.QueueAttributeNameMessageRetentionPeriod,
	} {
		if v, err := strconv.ParseInt(attrs[string(attr)], 10, 64); err == nil {
			r.SetMetric(metric, v)
		}
	}
	return nil
}
