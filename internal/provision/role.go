package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	log "github.com/sirupsen/logrus"
)

const (
	// Managed policy granting the warehouse read access to the source buckets.
	s3ReadOnlyPolicyARN = "arn:aws:iam::aws:policy/AmazonS3ReadOnlyAccess"

	roleDescription = "Allows Redshift clusters to call AWS services on your behalf."
	trustedService  = "redshift.amazonaws.com"
)

type IAMClient interface {
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	DetachRolePolicy(ctx context.Context, params *iam.DetachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DetachRolePolicyOutput, error)
	DeleteRole(ctx context.Context, params *iam.DeleteRoleInput, optFns ...func(*iam.Options)) (*iam.DeleteRoleOutput, error)
}

var _ IAMClient = (*iam.Client)(nil)

type trustPolicy struct {
	Version   string           `json:"Version"`
	Statement []trustStatement `json:"Statement"`
}

type trustStatement struct {
	Action    string            `json:"Action"`
	Effect    string            `json:"Effect"`
	Principal map[string]string `json:"Principal"`
}

// RoleManager owns the IAM trust role the cluster assumes to read S3.
type RoleManager struct {
	iam IAMClient
	log log.FieldLogger
}

func NewRoleManager(c IAMClient, logger log.FieldLogger) *RoleManager {
	return &RoleManager{iam: c, log: logger.WithField("component", "role")}
}

// CreateRole creates the trust role, attaches the S3 read-only policy and
// returns the role ARN. An existing role with the same name is reused.
func (m *RoleManager) CreateRole(ctx context.Context, name string) (string, error) {
	doc, err := json.Marshal(trustPolicy{
		Version: "2012-10-17",
		Statement: []trustStatement{{
			Action:    "sts:AssumeRole",
			Effect:    "Allow",
			Principal: map[string]string{"Service": trustedService},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal trust policy: %w", err)
	}

	_, err = m.iam.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		Path:                     aws.String("/"),
		Description:              aws.String(roleDescription),
		AssumeRolePolicyDocument: aws.String(string(doc)),
	})
	if err != nil {
		var exists *iamtypes.EntityAlreadyExistsException
		if !errors.As(err, &exists) {
			return "", fmt.Errorf("iam CreateRole %s: %w", name, err)
		}
		m.log.WithField("role", name).Info("iam role already exists, reusing it")
	} else {
		m.log.WithField("role", name).Info("created iam role")
	}

	// AttachRolePolicy is idempotent, safe on reruns.
	_, err = m.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(name),
		PolicyArn: aws.String(s3ReadOnlyPolicyARN),
	})
	if err != nil {
		return "", fmt.Errorf("iam AttachRolePolicy %s: %w", name, err)
	}

	out, err := m.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("iam GetRole %s: %w", name, err)
	}
	arn := aws.ToString(out.Role.Arn)
	m.log.WithFields(log.Fields{"role": name, "arn": arn}).Info("iam role ready")
	return arn, nil
}

// DeleteRole detaches the S3 policy and deletes the role. Both steps are
// attempted even if the first fails; a missing role or attachment counts as
// already done.
func (m *RoleManager) DeleteRole(ctx context.Context, name string) error {
	var errs []error

	_, err := m.iam.DetachRolePolicy(ctx, &iam.DetachRolePolicyInput{
		RoleName:  aws.String(name),
		PolicyArn: aws.String(s3ReadOnlyPolicyARN),
	})
	switch {
	case err == nil:
		m.log.WithField("role", name).Info("detached s3 read-only policy")
	case isNoSuchEntity(err):
		m.log.WithField("role", name).Info("policy already detached")
	default:
		errs = append(errs, fmt.Errorf("iam DetachRolePolicy %s: %w", name, err))
	}

	_, err = m.iam.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: aws.String(name)})
	switch {
	case err == nil:
		m.log.WithField("role", name).Info("deleted iam role")
	case isNoSuchEntity(err):
		m.log.WithField("role", name).Info("iam role already gone")
	default:
		errs = append(errs, fmt.Errorf("iam DeleteRole %s: %w", name, err))
	}

	return errors.Join(errs...)
}

func isNoSuchEntity(err error) bool {
	var nf *iamtypes.NoSuchEntityException
	return errors.As(err, &nf)
}
