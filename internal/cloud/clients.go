package cloud

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Region is fixed: the udacity-dend datasets live in us-west-2 and the
// cluster must sit next to them.
const Region = "us-west-2"

// Clients bundles the service clients the provisioner and ETL need. All of
// them share one aws.Config built from the static key pair in dwh.cfg.
type Clients struct {
	IAM      *iam.Client
	Redshift *redshift.Client
	EC2      *ec2.Client
	S3       *s3.Client
}

func New(ctx context.Context, key, secret string) (*Clients, error) {
	key = strings.TrimSpace(key)
	secret = strings.TrimSpace(secret)
	if key == "" || secret == "" {
		return nil, fmt.Errorf("missing aws credentials (AWS.KEY / AWS.SECRET)")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(key, secret, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Clients{
		IAM:      iam.NewFromConfig(cfg),
		Redshift: redshift.NewFromConfig(cfg),
		EC2:      ec2.NewFromConfig(cfg),
		S3:       s3.NewFromConfig(cfg),
	}, nil
}
