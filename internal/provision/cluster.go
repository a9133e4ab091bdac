package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	log "github.com/sirupsen/logrus"
)

const clusterStatusAvailable = "available"

const (
	defaultMaxWait      = 45 * time.Minute
	defaultPollInterval = 60 * time.Second
)

type RedshiftClient interface {
	CreateCluster(ctx context.Context, params *redshift.CreateClusterInput, optFns ...func(*redshift.Options)) (*redshift.CreateClusterOutput, error)
	DescribeClusters(ctx context.Context, params *redshift.DescribeClustersInput, optFns ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error)
	DeleteCluster(ctx context.Context, params *redshift.DeleteClusterInput, optFns ...func(*redshift.Options)) (*redshift.DeleteClusterOutput, error)
}

var _ RedshiftClient = (*redshift.Client)(nil)

// ClusterSpec carries the creation knobs read from [CLUSTER] in dwh.cfg.
type ClusterSpec struct {
	Identifier  string
	ClusterType string
	NodeType    string
	NumNodes    int
	DBName      string
	MasterUser  string
	MasterPass  string
	RoleARN     string
}

// Cluster is the slice of the descriptor the rest of the flow needs.
type Cluster struct {
	Endpoint string
	VPCID    string
	RoleARN  string
	Status   string
}

// WaitTimeoutError reports a cluster that never reached "available" within
// MaxWait. Distinct from API failures so callers can tell a slow cluster
// from a broken call.
type WaitTimeoutError struct {
	Identifier string
	LastStatus string
	Waited     time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("cluster %s not available after %s (last status %q)", e.Identifier, e.Waited, e.LastStatus)
}

// ClusterManager drives the Redshift cluster lifecycle.
type ClusterManager struct {
	redshift RedshiftClient
	log      log.FieldLogger

	// Wait knobs. Zero values fall back to 60s polls capped at 45m.
	MaxWait      time.Duration
	PollInterval time.Duration
}

func NewClusterManager(c RedshiftClient, logger log.FieldLogger) *ClusterManager {
	return &ClusterManager{redshift: c, log: logger.WithField("component", "cluster")}
}

// CreateCluster issues the create request with the trust role attached. An
// already existing cluster with this identifier is treated as success so a
// rerun can pick up where a crashed run stopped.
func (m *ClusterManager) CreateCluster(ctx context.Context, spec ClusterSpec) error {
	_, err := m.redshift.CreateCluster(ctx, &redshift.CreateClusterInput{
		ClusterIdentifier:  aws.String(spec.Identifier),
		ClusterType:        aws.String(spec.ClusterType),
		NodeType:           aws.String(spec.NodeType),
		NumberOfNodes:      aws.Int32(int32(spec.NumNodes)),
		DBName:             aws.String(spec.DBName),
		MasterUsername:     aws.String(spec.MasterUser),
		MasterUserPassword: aws.String(spec.MasterPass),
		IamRoles:           []string{spec.RoleARN},
	})
	if err != nil {
		var exists *redshifttypes.ClusterAlreadyExistsFault
		if !errors.As(err, &exists) {
			return fmt.Errorf("redshift CreateCluster %s: %w", spec.Identifier, err)
		}
		m.log.WithField("cluster", spec.Identifier).Info("cluster already exists, will wait on it")
		return nil
	}
	m.log.WithFields(log.Fields{"cluster": spec.Identifier, "nodes": spec.NumNodes, "node_type": spec.NodeType}).Info("cluster creation started")
	return nil
}

// WaitUntilAvailable polls DescribeClusters until the status is "available"
// and returns the descriptor (endpoint, vpc, attached role). The wait is
// bounded; on expiry the caller gets a *WaitTimeoutError, never an endless
// loop.
func (m *ClusterManager) WaitUntilAvailable(ctx context.Context, id string) (*Cluster, error) {
	maxWait := m.MaxWait
	if maxWait == 0 {
		maxWait = defaultMaxWait
	}
	interval := m.PollInterval
	if interval == 0 {
		interval = defaultPollInterval
	}

	start := time.Now()
	deadline := start.Add(maxWait)
	for {
		c, err := m.describe(ctx, id)
		if err != nil {
			return nil, err
		}
		if c.Status == clusterStatusAvailable {
			m.log.WithFields(log.Fields{"cluster": id, "endpoint": c.Endpoint}).Info("cluster is available")
			return c, nil
		}
		if time.Now().After(deadline) {
			return nil, &WaitTimeoutError{Identifier: id, LastStatus: c.Status, Waited: time.Since(start).Round(time.Second)}
		}
		m.log.WithFields(log.Fields{"cluster": id, "status": c.Status}).Info("waiting for cluster")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// DeleteCluster issues the delete with the final snapshot skipped. Deletion
// is not polled; the cluster disappears on its own time.
func (m *ClusterManager) DeleteCluster(ctx context.Context, id string) error {
	_, err := m.redshift.DeleteCluster(ctx, &redshift.DeleteClusterInput{
		ClusterIdentifier:        aws.String(id),
		SkipFinalClusterSnapshot: aws.Bool(true),
	})
	if err != nil {
		var nf *redshifttypes.ClusterNotFoundFault
		if errors.As(err, &nf) {
			m.log.WithField("cluster", id).Info("cluster already gone")
			return nil
		}
		return fmt.Errorf("redshift DeleteCluster %s: %w", id, err)
	}
	m.log.WithField("cluster", id).Info("cluster deletion started")
	return nil
}

func (m *ClusterManager) describe(ctx context.Context, id string) (*Cluster, error) {
	out, err := m.redshift.DescribeClusters(ctx, &redshift.DescribeClustersInput{
		ClusterIdentifier: aws.String(id),
	})
	if err != nil {
		return nil, fmt.Errorf("redshift DescribeClusters %s: %w", id, err)
	}
	if len(out.Clusters) == 0 {
		return nil, fmt.Errorf("redshift DescribeClusters %s: empty response", id)
	}

	c := out.Clusters[0]
	d := &Cluster{
		Status: aws.ToString(c.ClusterStatus),
		VPCID:  aws.ToString(c.VpcId),
	}
	if c.Endpoint != nil {
		d.Endpoint = aws.ToString(c.Endpoint.Address)
	}
	if len(c.IamRoles) > 0 {
		d.RoleARN = aws.ToString(c.IamRoles[0].IamRoleArn)
	}
	return d, nil
}
