package enrich

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/memorydb"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/redshift"

	awsprov "github.com/yairfalse/kartta/internal/provider/aws"
	"github.com/yairfalse/kartta/pkg/resource"
)

func enrichRDSInstance(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.RDS.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{DBInstanceIdentifier: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("describe db instance %s: %w", id.ID, err)
	}
	if len(out.DBInstances) == 0 {
		return fmt.Errorf("%w: db instance %s", errNotFound, id.ID)
	}

	db := out.DBInstances[0]
	status := aws.ToString(db.DBInstanceStatus)
	setStatus(r, status, status == "available")

	r.SetDetail("engine", aws.ToString(db.Engine))
	r.SetDetail("engineVersion", aws.ToString(db.EngineVersion))
	r.SetDetail("instanceClass", aws.ToString(db.DBInstanceClass))
	r.SetDetail("multiAZ", aws.ToBool(db.MultiAZ))
	r.SetDetail("publiclyAccessible", aws.ToBool(db.PubliclyAccessible))
	r.SetDetail("storageType", aws.ToString(db.StorageType))
	r.SetDetail("allocatedStorage", aws.ToInt32(db.AllocatedStorage))
	if db.Endpoint != nil {
		r.SetDetail("endpoint", aws.ToString(db.Endpoint.Address))
		r.SetDetail("port", aws.ToInt32(db.Endpoint.Port))
	}
	r.SetDetail("availabilityZone", aws.ToString(db.AvailabilityZone))

	r.SetMetric("storageEncrypted", aws.ToBool(db.StorageEncrypted))
	r.SetMetric("backupRetentionPeriod", aws.ToInt32(db.BackupRetentionPeriod))
	r.SetMetric("deletionProtection", aws.ToBool(db.DeletionProtection))
	return nil
}

func enrichRDSCluster(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.RDS.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{DBClusterIdentifier: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("describe db cluster %s: %w", id.ID, err)
	}
	if len(out.DBClusters) == 0 {
		return fmt.Errorf("%w: db cluster %s", errNotFound, id.ID)
	}

	cl := out.DBClusters[0]
	status := aws.ToString(cl.Status)
	setStatus(r, status, status == "available")

	r.SetDetail("engine", aws.ToString(cl.Engine))
	r.SetDetail("engineVersion", aws.ToString(cl.EngineVersion))
	r.SetDetail("masterUsername", aws.ToString(cl.MasterUsername))
	r.SetDetail("multiAZ", aws.ToBool(cl.MultiAZ))
	r.SetDetail("readerEndpoint", aws.ToString(cl.ReaderEndpoint))
	r.SetDetail("endpoint", aws.ToString(cl.Endpoint))
	r.SetDetail("port", aws.ToInt32(cl.Port))
	r.SetDetail("clusterMembers", len(cl.DBClusterMembers))

	r.SetMetric("storageEncrypted", aws.ToBool(cl.StorageEncrypted))
	r.SetMetric("backupRetentionPeriod", aws.ToInt32(cl.BackupRetentionPeriod))
	r.SetMetric("deletionProtection", aws.ToBool(cl.DeletionProtection))
	return nil
}

func enrichDynamoDBTable(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", id.ID, err)
	}
	if out.Table == nil {
		return fmt.Errorf("%w: table %s", errNotFound, id.ID)
	}

	t := out.Table
	setStatus(r, string(t.TableStatus), t.TableStatus == ddbtypes.TableStatusActive)

	billing := string(ddbtypes.BillingModeProvisioned)
	if t.BillingModeSummary != nil && t.BillingModeSummary.BillingMode != "" {
		billing = string(t.BillingModeSummary.BillingMode)
	}
	r.SetDetail("billingMode", billing)
	r.SetDetail("deletionProtection", aws.ToBool(t.DeletionProtectionEnabled))

	r.SetMetric("itemCount", aws.ToInt64(t.ItemCount))
	r.SetMetric("tableSizeBytes", aws.ToInt64(t.TableSizeBytes))
	if pt := t.ProvisionedThroughput; pt != nil {
		r.SetMetric("readCapacityUnits", aws.ToInt64(pt.ReadCapacityUnits))
		r.SetMetric("writeCapacityUnits", aws.ToInt64(pt.WriteCapacityUnits))
	}
	return nil
}

func enrichRedshiftCluster(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.Redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{ClusterIdentifier: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("describe redshift cluster %s: %w", id.ID, err)
	}
	if len(out.Clusters) == 0 {
		return fmt.Errorf("%w: redshift cluster %s", errNotFound, id.ID)
	}

	cl := out.Clusters[0]
	status := aws.ToString(cl.ClusterStatus)
	setStatus(r, status, status == "available")

	r.SetDetail("nodeType", aws.ToString(cl.NodeType))
	r.SetDetail("availabilityStatus", aws.ToString(cl.ClusterAvailabilityStatus))
	r.SetDetail("dbName", aws.ToString(cl.DBName))
	r.SetDetail("publiclyAccessible", aws.ToBool(cl.PubliclyAccessible))
	if cl.Endpoint != nil {
		r.SetDetail("endpoint", aws.ToString(cl.Endpoint.Address))
		r.SetDetail("port", aws.ToInt32(cl.Endpoint.Port))
	}

	r.SetMetric("numberOfNodes", aws.ToInt32(cl.NumberOfNodes))
	r.SetMetric("encrypted", aws.ToBool(cl.Encrypted))
	return nil
}

func enrichMemoryDBCluster(ctx context.Context, c *awsprov.Clients, r *resource.Resource) error {
	id, err := resolveID(r.ARN, r.Type)
	if err != nil {
		return err
	}

	out, err := c.MemoryDB.DescribeClusters(ctx, &memorydb.DescribeClustersInput{ClusterName: aws.String(id.ID)})
	if err != nil {
		return fmt.Errorf("describe memorydb cluster %s: %w", id.ID, err)
	}
	if len(out.Clusters) == 0 {
		return fmt.Errorf("%w: memorydb cluster %s", errNotFound, id.ID)
	}

	cl := out.Clusters[0]
	status := aws.ToString(cl.Status)
	setStatus(r, status, status == "available")

	r.SetDetail("nodeType", aws.ToString(cl.NodeType))
	r.SetDetail("engineVersion", aws.ToString(cl.EngineVersion))
	r.SetDetail("availabilityMode", string(cl.AvailabilityMode))
	r.SetDetail("tlsEnabled", aws.ToBool(cl.TLSEnabled))

	r.SetMetric("numberOfShards", aws.ToInt32(cl.NumberOfShards))
	return nil
}
