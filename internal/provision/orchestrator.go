package provision

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/hasib457/sparfiy-dwh/internal/config"
)

// StepResult is the recorded outcome of one provisioning step. Steps are
// best-effort: a failure is logged and recorded, never raised, and the
// remaining steps still run.
type StepResult struct {
	Name string
	Err  error
}

func (s StepResult) Failed() bool { return s.Err != nil }

// FailedCount returns how many steps in a run went wrong.
func FailedCount(results []StepResult) int {
	n := 0
	for _, r := range results {
		if r.Failed() {
			n++
		}
	}
	return n
}

// Provisioner sequences the managers and persists every discovered value
// (role ARN, endpoint host, VPC id) back into dwh.cfg as soon as it is
// known, so a crashed run can be resumed by simply rerunning.
type Provisioner struct {
	Roles    *RoleManager
	Clusters *ClusterManager
	Ingress  *IngressManager

	cfg *config.Config
	log log.FieldLogger
}

func New(cfg *config.Config, iamc IAMClient, rsc RedshiftClient, ec2c EC2Client, logger log.FieldLogger) *Provisioner {
	return &Provisioner{
		Roles:    NewRoleManager(iamc, logger),
		Clusters: NewClusterManager(rsc, logger),
		Ingress:  NewIngressManager(ec2c, logger),
		cfg:      cfg,
		log:      logger,
	}
}

// CreateAll builds the warehouse: trust role, cluster, wait for available,
// ingress rule. Every step runs even when an earlier one failed; steps with
// missing prerequisites fail on their own and get recorded like the rest.
func (p *Provisioner) CreateAll(ctx context.Context) []StepResult {
	var results []StepResult
	step := func(name string, fn func() error) {
		err := fn()
		if err != nil {
			p.log.WithField("step", name).WithError(err).Error("step failed, continuing")
		}
		results = append(results, StepResult{Name: name, Err: err})
	}

	// Seed from config so a rerun after a crashed role step still has an ARN.
	arn := p.cfg.RoleARN

	step("create-iam-role", func() error {
		a, err := p.Roles.CreateRole(ctx, p.cfg.IAMRoleName)
		if err != nil {
			return err
		}
		arn = a
		p.cfg.Set(config.SectionIAMRole, "ARN", arn)
		return p.cfg.Save()
	})

	step("create-cluster", func() error {
		return p.Clusters.CreateCluster(ctx, ClusterSpec{
			Identifier:  p.cfg.ClusterIdentifier,
			ClusterType: p.cfg.ClusterType,
			NodeType:    p.cfg.NodeType,
			NumNodes:    p.cfg.NumNodes,
			DBName:      p.cfg.DBName,
			MasterUser:  p.cfg.DBUser,
			MasterPass:  p.cfg.DBPassword,
			RoleARN:     arn,
		})
	})

	var cluster *Cluster
	step("wait-cluster-available", func() error {
		c, err := p.Clusters.WaitUntilAvailable(ctx, p.cfg.ClusterIdentifier)
		if err != nil {
			return err
		}
		cluster = c
		p.cfg.Set(config.SectionCluster, "HOST", c.Endpoint)
		p.cfg.Set(config.SectionCluster, "VPCID", c.VPCID)
		if c.RoleARN != "" {
			p.cfg.Set(config.SectionIAMRole, "ARN", c.RoleARN)
		}
		return p.cfg.Save()
	})

	step("open-ingress", func() error {
		if cluster == nil {
			return fmt.Errorf("cluster state unknown, ingress not attempted")
		}
		return p.Ingress.OpenIngress(ctx, cluster.VPCID, p.cfg.DBPort)
	})

	return results
}

// DeleteAll tears the warehouse down in the mirror order: cluster, role,
// ingress. The ingress step revokes against the VPC id stored in the config,
// since the cluster that knew it may already be gone.
func (p *Provisioner) DeleteAll(ctx context.Context) []StepResult {
	var results []StepResult
	step := func(name string, fn func() error) {
		err := fn()
		if err != nil {
			p.log.WithField("step", name).WithError(err).Error("step failed, continuing")
		}
		results = append(results, StepResult{Name: name, Err: err})
	}

	step("delete-cluster", func() error {
		return p.Clusters.DeleteCluster(ctx, p.cfg.ClusterIdentifier)
	})

	step("delete-iam-role", func() error {
		return p.Roles.DeleteRole(ctx, p.cfg.IAMRoleName)
	})

	step("revoke-ingress", func() error {
		if p.cfg.VPCID == "" {
			return fmt.Errorf("no VPCID stored in %s, cannot resolve the security group", p.cfg.Path())
		}
		return p.Ingress.RevokeIngress(ctx, p.cfg.VPCID, p.cfg.DBPort)
	})

	return results
}
