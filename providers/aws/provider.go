// Package aws implements the provider capability set on top of the
// AWS SDK. Supported resource types cover the networking and compute
// primitives needed to stand up an SSH-reachable instance: VPC,
// subnet, security group and EC2 instance.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	pv "github.com/skiff-io/skiff/pkg/provider"
)

const defaultRegion = "us-east-1"

type Provider struct {
	region    string
	ec2Client *ec2.Client
}

func New() *Provider {
	return &Provider{region: defaultRegion}
}

func (p *Provider) ensureClient(ctx context.Context) error {
	if p.ec2Client != nil {
		return nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.region))
	if err != nil {
		return fmt.Errorf("unable to load AWS config: %w", err)
	}
	p.ec2Client = ec2.NewFromConfig(cfg)
	return nil
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	if region := settings["region"]; region != "" {
		p.region = region
		p.ec2Client = nil
	}
	return p.ensureClient(ctx)
}

func (p *Provider) Plan(ctx context.Context, req *pv.PlanRequest) (*pv.PlanResponse, error) {
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	if req.DesiredJSON == nil && req.PriorJSON != nil {
		return &pv.PlanResponse{Action: pv.ActionDelete}, nil
	}
	if req.PriorJSON == nil {
		return &pv.PlanResponse{Action: pv.ActionCreate}, nil
	}

	switch req.Type {
	case "aws:EC2.Instance":
		return p.planInstance(ctx, req)
	case "aws:EC2.Vpc":
		return planVpc(req)
	case "aws:EC2.Subnet":
		return planSubnet(req)
	case "aws:EC2.SecurityGroup":
		return planSecurityGroup(req)
	}
	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

// fieldChanged compares a desired attribute with the one recorded in
// state. A desired value still holding an unresolved reference cannot
// have diverged, since the referenced attribute is engine-assigned.
func fieldChanged(desired, prior string) bool {
	if desired == "" || strings.HasPrefix(desired, "ref://") {
		return false
	}
	return desired != prior
}

func planVpc(req *pv.PlanRequest) (*pv.PlanResponse, error) {
	var desired VpcConfig
	var prior VpcState
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if fieldChanged(desired.CidrBlock, prior.CidrBlock) {
		return &pv.PlanResponse{Action: pv.ActionReplace, ChangedAttributes: []string{"cidr_block"}}, nil
	}
	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func planSubnet(req *pv.PlanRequest) (*pv.PlanResponse, error) {
	var desired SubnetConfig
	var prior SubnetState
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	var changed []string
	if fieldChanged(desired.VpcID, prior.VpcID) {
		changed = append(changed, "vpc_id")
	}
	if fieldChanged(desired.CidrBlock, prior.CidrBlock) {
		changed = append(changed, "cidr_block")
	}
	if len(changed) > 0 {
		return &pv.PlanResponse{Action: pv.ActionReplace, ChangedAttributes: changed}, nil
	}
	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func planSecurityGroup(req *pv.PlanRequest) (*pv.PlanResponse, error) {
	var desired SecurityGroupConfig
	var prior SecurityGroupState
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if fieldChanged(desired.Name, prior.Name) {
		return &pv.PlanResponse{Action: pv.ActionReplace, ChangedAttributes: []string{"name"}}, nil
	}
	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.applyVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.applySubnet(ctx, req)
	case "aws:EC2.SecurityGroup":
		return p.applySecurityGroup(ctx, req)
	case "aws:EC2.Instance":
		return p.applyInstance(ctx, req)
	}
	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *pv.ReadRequest) (*pv.ReadResponse, error) {
	if err := p.ensureClient(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Instance":
		return p.readInstance(ctx, req)
	}
	// For network primitives the prior state is authoritative enough:
	// they have no mutable attributes we track.
	return &pv.ReadResponse{Exists: true, StateJSON: req.CurrentJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *pv.DeleteRequest) error {
	if err := p.ensureClient(ctx); err != nil {
		return err
	}

	apply := &pv.ApplyRequest{Type: req.Type, PriorJSON: req.CurrentJSON}
	switch req.Type {
	case "aws:EC2.Vpc":
		_, err := p.applyVpc(ctx, apply)
		return err
	case "aws:EC2.Subnet":
		_, err := p.applySubnet(ctx, apply)
		return err
	case "aws:EC2.SecurityGroup":
		_, err := p.applySecurityGroup(ctx, apply)
		return err
	case "aws:EC2.Instance":
		_, err := p.applyInstance(ctx, apply)
		return err
	}
	return fmt.Errorf("unknown resource type: %s", req.Type)
}
