package provision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	redshifttypes "github.com/aws/aws-sdk-go-v2/service/redshift/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRedshift struct {
	createErr   error
	describeErr error
	deleteErr   error

	// statuses are returned one per DescribeClusters call; the last one
	// repeats once the list is exhausted.
	statuses []string
	endpoint string
	vpcID    string
	roleARN  string

	createIn  *redshift.CreateClusterInput
	deleteIn  *redshift.DeleteClusterInput
	describes int
}

var _ RedshiftClient = (*fakeRedshift)(nil)

func (f *fakeRedshift) CreateCluster(_ context.Context, in *redshift.CreateClusterInput, _ ...func(*redshift.Options)) (*redshift.CreateClusterOutput, error) {
	f.createIn = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &redshift.CreateClusterOutput{}, nil
}

func (f *fakeRedshift) DescribeClusters(_ context.Context, in *redshift.DescribeClustersInput, _ ...func(*redshift.Options)) (*redshift.DescribeClustersOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	i := f.describes
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.describes++

	status := f.statuses[i]
	c := redshifttypes.Cluster{
		ClusterIdentifier: in.ClusterIdentifier,
		ClusterStatus:     aws.String(status),
		VpcId:             aws.String(f.vpcID),
	}
	if status == clusterStatusAvailable {
		c.Endpoint = &redshifttypes.Endpoint{Address: aws.String(f.endpoint)}
		c.IamRoles = []redshifttypes.ClusterIamRole{{IamRoleArn: aws.String(f.roleARN)}}
	}
	return &redshift.DescribeClustersOutput{Clusters: []redshifttypes.Cluster{c}}, nil
}

func (f *fakeRedshift) DeleteCluster(_ context.Context, in *redshift.DeleteClusterInput, _ ...func(*redshift.Options)) (*redshift.DeleteClusterOutput, error) {
	f.deleteIn = in
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &redshift.DeleteClusterOutput{}, nil
}

func testClusterSpec() ClusterSpec {
	return ClusterSpec{
		Identifier:  "dwhcluster",
		ClusterType: "multi-node",
		NodeType:    "dc2.large",
		NumNodes:    4,
		DBName:      "dwh",
		MasterUser:  "dwhuser",
		MasterPass:  "Passw0rd",
		RoleARN:     testRoleARN,
	}
}

func TestCreateCluster(t *testing.T) {
	f := &fakeRedshift{}
	m := NewClusterManager(f, testLogger())

	require.NoError(t, m.CreateCluster(context.Background(), testClusterSpec()))

	in := f.createIn
	require.NotNil(t, in)
	assert.Equal(t, "dwhcluster", aws.ToString(in.ClusterIdentifier))
	assert.Equal(t, "multi-node", aws.ToString(in.ClusterType))
	assert.Equal(t, "dc2.large", aws.ToString(in.NodeType))
	assert.Equal(t, int32(4), aws.ToInt32(in.NumberOfNodes))
	assert.Equal(t, "dwh", aws.ToString(in.DBName))
	assert.Equal(t, "dwhuser", aws.ToString(in.MasterUsername))
	assert.Equal(t, []string{testRoleARN}, in.IamRoles)
}

func TestCreateClusterAlreadyExists(t *testing.T) {
	f := &fakeRedshift{createErr: &redshifttypes.ClusterAlreadyExistsFault{Message: aws.String("exists")}}
	m := NewClusterManager(f, testLogger())

	// A leftover cluster from a crashed run is picked up, not an error.
	require.NoError(t, m.CreateCluster(context.Background(), testClusterSpec()))
}

func TestCreateClusterFailure(t *testing.T) {
	f := &fakeRedshift{createErr: errors.New("quota exceeded")}
	m := NewClusterManager(f, testLogger())

	err := m.CreateCluster(context.Background(), testClusterSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CreateCluster")
}

func TestWaitUntilAvailable(t *testing.T) {
	f := &fakeRedshift{
		statuses: []string{"creating", "creating", clusterStatusAvailable},
		endpoint: "dwhcluster.cabc123.us-west-2.redshift.amazonaws.com",
		vpcID:    "vpc-0a1b2c3d",
		roleARN:  testRoleARN,
	}
	m := NewClusterManager(f, testLogger())
	m.PollInterval = time.Millisecond
	m.MaxWait = time.Second

	c, err := m.WaitUntilAvailable(context.Background(), "dwhcluster")
	require.NoError(t, err)
	assert.Equal(t, 3, f.describes)
	assert.Equal(t, "dwhcluster.cabc123.us-west-2.redshift.amazonaws.com", c.Endpoint)
	assert.Equal(t, "vpc-0a1b2c3d", c.VPCID)
	assert.Equal(t, testRoleARN, c.RoleARN)
	assert.Equal(t, clusterStatusAvailable, c.Status)
}

func TestWaitUntilAvailableTimesOut(t *testing.T) {
	f := &fakeRedshift{statuses: []string{"creating"}}
	m := NewClusterManager(f, testLogger())
	m.PollInterval = time.Millisecond
	m.MaxWait = 10 * time.Millisecond

	_, err := m.WaitUntilAvailable(context.Background(), "dwhcluster")
	require.Error(t, err)

	var timeout *WaitTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "dwhcluster", timeout.Identifier)
	assert.Equal(t, "creating", timeout.LastStatus)
}

func TestWaitUntilAvailableDescribeError(t *testing.T) {
	f := &fakeRedshift{describeErr: errors.New("access denied")}
	m := NewClusterManager(f, testLogger())
	m.PollInterval = time.Millisecond
	m.MaxWait = time.Second

	_, err := m.WaitUntilAvailable(context.Background(), "dwhcluster")
	require.Error(t, err)

	var timeout *WaitTimeoutError
	assert.False(t, errors.As(err, &timeout), "API failures are not timeouts")
	assert.Contains(t, err.Error(), "DescribeClusters")
}

func TestWaitUntilAvailableCanceled(t *testing.T) {
	f := &fakeRedshift{statuses: []string{"creating"}}
	m := NewClusterManager(f, testLogger())
	m.PollInterval = time.Hour
	m.MaxWait = 2 * time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.WaitUntilAvailable(ctx, "dwhcluster")
	require.ErrorIs(t, err, context.Canceled)
}

func TestDeleteCluster(t *testing.T) {
	f := &fakeRedshift{}
	m := NewClusterManager(f, testLogger())

	require.NoError(t, m.DeleteCluster(context.Background(), "dwhcluster"))
	require.NotNil(t, f.deleteIn)
	assert.Equal(t, "dwhcluster", aws.ToString(f.deleteIn.ClusterIdentifier))
	assert.True(t, aws.ToBool(f.deleteIn.SkipFinalClusterSnapshot))
}

func TestDeleteClusterAlreadyGone(t *testing.T) {
	f := &fakeRedshift{deleteErr: &redshifttypes.ClusterNotFoundFault{Message: aws.String("not found")}}
	m := NewClusterManager(f, testLogger())

	require.NoError(t, m.DeleteCluster(context.Background(), "dwhcluster"))
}
