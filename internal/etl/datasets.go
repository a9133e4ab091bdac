package etl

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

type S3Client interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ S3Client = (*s3.Client)(nil)

// DatasetChecker verifies the source datasets exist before the COPYs run.
// Findings only warn; the COPY itself stays the authoritative error.
type DatasetChecker struct {
	s3  S3Client
	log log.FieldLogger
}

func NewDatasetChecker(c S3Client, logger log.FieldLogger) *DatasetChecker {
	return &DatasetChecker{s3: c, log: logger.WithField("component", "datasets")}
}

// Verify checks that the JSONPaths file exists and that both data prefixes
// hold at least one object. It reports everything wrong at once.
func (d *DatasetChecker) Verify(ctx context.Context, p CopyParams) error {
	var errs []error

	bucket, key, err := splitS3URL(p.LogJSONPath)
	if err != nil {
		errs = append(errs, err)
	} else if _, err := d.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		errs = append(errs, fmt.Errorf("jsonpaths %s: %w", p.LogJSONPath, err))
	} else {
		d.log.WithField("object", p.LogJSONPath).Info("jsonpaths file found")
	}

	for _, u := range []string{p.LogData, p.SongData} {
		if err := d.checkPrefix(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (d *DatasetChecker) checkPrefix(ctx context.Context, u string) error {
	bucket, prefix, err := splitS3URL(u)
	if err != nil {
		return err
	}
	out, err := d.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return fmt.Errorf("list %s: %w", u, err)
	}
	if aws.ToInt32(out.KeyCount) == 0 {
		return fmt.Errorf("no objects under %s", u)
	}
	d.log.WithField("prefix", u).Info("dataset present")
	return nil
}

func splitS3URL(u string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(u, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", u)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("not an s3 url: %s", u)
	}
	return bucket, key, nil
}
