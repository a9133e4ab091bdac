package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	log "github.com/sirupsen/logrus"
)

// Ingress rule shape: TCP on the warehouse port, open to the world.
const openCIDR = "0.0.0.0/0"

type EC2Client interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
}

var _ EC2Client = (*ec2.Client)(nil)

// IngressManager opens and closes the client access rule on the cluster's
// VPC. It always acts on the first security group of the VPC, which on the
// single-purpose VPCs this tool targets is the default group.
type IngressManager struct {
	ec2 EC2Client
	log log.FieldLogger
}

func NewIngressManager(c EC2Client, logger log.FieldLogger) *IngressManager {
	return &IngressManager{ec2: c, log: logger.WithField("component", "ingress")}
}

// OpenIngress authorizes TCP from anywhere on the given port. A rule that is
// already present counts as success.
func (m *IngressManager) OpenIngress(ctx context.Context, vpcID string, port int) error {
	groupID, err := m.firstSecurityGroup(ctx, vpcID)
	if err != nil {
		return err
	}

	_, err = m.ec2.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId:    aws.String(groupID),
		IpProtocol: aws.String("tcp"),
		CidrIp:     aws.String(openCIDR),
		FromPort:   aws.Int32(int32(port)),
		ToPort:     aws.Int32(int32(port)),
	})
	if err != nil {
		if ec2ErrorCode(err) == "InvalidPermission.Duplicate" {
			m.log.WithFields(log.Fields{"group": groupID, "port": port}).Info("ingress rule already present")
			return nil
		}
		return fmt.Errorf("ec2 AuthorizeSecurityGroupIngress %s: %w", groupID, err)
	}
	m.log.WithFields(log.Fields{"group": groupID, "port": port, "cidr": openCIDR}).Info("opened ingress")
	return nil
}

// RevokeIngress removes the rule OpenIngress added, resolving the group the
// same way. An already absent rule or group counts as done.
func (m *IngressManager) RevokeIngress(ctx context.Context, vpcID string, port int) error {
	groupID, err := m.firstSecurityGroup(ctx, vpcID)
	if err != nil {
		return err
	}

	_, err = m.ec2.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:    aws.String(groupID),
		IpProtocol: aws.String("tcp"),
		CidrIp:     aws.String(openCIDR),
		FromPort:   aws.Int32(int32(port)),
		ToPort:     aws.Int32(int32(port)),
	})
	if err != nil {
		switch ec2ErrorCode(err) {
		case "InvalidPermission.NotFound":
			m.log.WithFields(log.Fields{"group": groupID, "port": port}).Info("ingress rule already absent")
			return nil
		case "InvalidGroup.NotFound":
			m.log.WithField("group", groupID).Info("security group already gone")
			return nil
		}
		return fmt.Errorf("ec2 RevokeSecurityGroupIngress %s: %w", groupID, err)
	}
	m.log.WithFields(log.Fields{"group": groupID, "port": port}).Info("revoked ingress")
	return nil
}

func (m *IngressManager) firstSecurityGroup(ctx context.Context, vpcID string) (string, error) {
	out, err := m.ec2.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("vpc-id"),
			Values: []string{vpcID},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("ec2 DescribeSecurityGroups vpc %s: %w", vpcID, err)
	}
	if len(out.SecurityGroups) == 0 {
		return "", fmt.Errorf("no security groups in vpc %s", vpcID)
	}
	return aws.ToString(out.SecurityGroups[0].GroupId), nil
}

func ec2ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
