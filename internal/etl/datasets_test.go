package etl

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	headErr  error
	listErr  error
	keyCount int32

	headIns []*s3.HeadObjectInput
	listIns []*s3.ListObjectsV2Input
}

var _ S3Client = (*fakeS3)(nil)

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.headIns = append(f.headIns, in)
	if f.headErr != nil {
		return nil, f.headErr
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listIns = append(f.listIns, in)
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &s3.ListObjectsV2Output{KeyCount: aws.Int32(f.keyCount)}, nil
}

func TestVerifyDatasets(t *testing.T) {
	f := &fakeS3{keyCount: 1}
	c := NewDatasetChecker(f, testLogger())

	require.NoError(t, c.Verify(context.Background(), testCopyParams()))

	require.Len(t, f.headIns, 1)
	assert.Equal(t, "udacity-dend", aws.ToString(f.headIns[0].Bucket))
	assert.Equal(t, "log_json_path.json", aws.ToString(f.headIns[0].Key))

	require.Len(t, f.listIns, 2)
	assert.Equal(t, "log_data", aws.ToString(f.listIns[0].Prefix))
	assert.Equal(t, "song_data", aws.ToString(f.listIns[1].Prefix))
	assert.Equal(t, int32(1), aws.ToInt32(f.listIns[0].MaxKeys))
}

func TestVerifyDatasetsMissingJSONPaths(t *testing.T) {
	f := &fakeS3{keyCount: 1, headErr: errors.New("NotFound: 404")}
	c := NewDatasetChecker(f, testLogger())

	err := c.Verify(context.Background(), testCopyParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jsonpaths s3://udacity-dend/log_json_path.json")
}

func TestVerifyDatasetsEmptyPrefixes(t *testing.T) {
	f := &fakeS3{keyCount: 0}
	c := NewDatasetChecker(f, testLogger())

	err := c.Verify(context.Background(), testCopyParams())
	require.Error(t, err)

	// Both missing datasets are reported in one error.
	assert.Contains(t, err.Error(), "no objects under s3://udacity-dend/log_data")
	assert.Contains(t, err.Error(), "no objects under s3://udacity-dend/song_data")
}

func TestSplitS3URL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		bucket  string
		key     string
		wantErr bool
	}{
		{name: "prefix", url: "s3://udacity-dend/log_data", bucket: "udacity-dend", key: "log_data"},
		{name: "nested key", url: "s3://udacity-dend/a/b/c.json", bucket: "udacity-dend", key: "a/b/c.json"},
		{name: "bucket only", url: "s3://udacity-dend", bucket: "udacity-dend", key: ""},
		{name: "wrong scheme", url: "https://udacity-dend/log_data", wantErr: true},
		{name: "empty bucket", url: "s3://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := splitS3URL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}
