package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	pv "github.com/skiff-io/skiff/pkg/provider"
)

type VpcConfig struct {
	CidrBlock string            `json:"cidr_block"`
	Tags      map[string]string `json:"tags,omitempty"`
}

type VpcState struct {
	ID        string `json:"id"`
	CidrBlock string `json:"cidr_block"`
}

type SubnetConfig struct {
	VpcID               string            `json:"vpc_id"`
	CidrBlock           string            `json:"cidr_block"`
	AvailabilityZone    string            `json:"availability_zone,omitempty"`
	MapPublicIPOnLaunch bool              `json:"map_public_ip_on_launch,omitempty"`
	Tags                map[string]string `json:"tags,omitempty"`
}

type SubnetState struct {
	ID        string `json:"id"`
	VpcID     string `json:"vpc_id"`
	CidrBlock string `json:"cidr_block"`
}

type SecurityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	VpcID       string              `json:"vpc_id"`
	Ingress     []SecurityGroupRule `json:"ingress,omitempty"`
	Egress      []SecurityGroupRule `json:"egress,omitempty"`
}

type SecurityGroupRule struct {
	FromPort   int      `json:"from_port"`
	ToPort     int      `json:"to_port"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidr_blocks"`
}

type SecurityGroupState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p *Provider) applyVpc(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredJSON == nil {
		var prior VpcState
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if _, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete VPC: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired VpcConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: &desired.CidrBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}

	p.tagResource(ctx, *resp.Vpc.VpcId, req.Name, desired.Tags)

	newState := VpcState{
		ID:        *resp.Vpc.VpcId,
		CidrBlock: *resp.Vpc.CidrBlock,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) applySubnet(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredJSON == nil {
		var prior SubnetState
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if _, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete subnet: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired SubnetConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	input := &ec2.CreateSubnetInput{
		VpcId:     &desired.VpcID,
		CidrBlock: &desired.CidrBlock,
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = &desired.AvailabilityZone
	}

	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}

	if desired.MapPublicIPOnLaunch {
		_, err = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            resp.Subnet.SubnetId,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: aws.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable public IP mapping: %w", err)
		}
	}

	p.tagResource(ctx, *resp.Subnet.SubnetId, req.Name, desired.Tags)

	newState := SubnetState{
		ID:        *resp.Subnet.SubnetId,
		VpcID:     *resp.Subnet.VpcId,
		CidrBlock: *resp.Subnet.CidrBlock,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredJSON == nil {
		var prior SecurityGroupState
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if _, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &prior.ID}); err != nil {
				return nil, fmt.Errorf("failed to delete security group: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired SecurityGroupConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, &ec2.CreateSecurityGroupInput{
		GroupName:   &desired.Name,
		Description: aws.String(orDefault(desired.Description, "managed by skiff")),
		VpcId:       &desired.VpcID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create security group: %w", err)
	}

	if len(desired.Ingress) > 0 {
		_, err = p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       resp.GroupId,
			IpPermissions: toIPPermissions(desired.Ingress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize ingress rules: %w", err)
		}
	}
	if len(desired.Egress) > 0 {
		_, err = p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       resp.GroupId,
			IpPermissions: toIPPermissions(desired.Egress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize egress rules: %w", err)
		}
	}

	newState := SecurityGroupState{
		ID:   *resp.GroupId,
		Name: desired.Name,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{StateJSON: stateJSON}, nil
}

func toIPPermissions(rules []SecurityGroupRule) []types.IpPermission {
	var perms []types.IpPermission
	for _, rule := range rules {
		perm := types.IpPermission{
			FromPort:   aws.Int32(int32(rule.FromPort)),
			ToPort:     aws.Int32(int32(rule.ToPort)),
			IpProtocol: aws.String(rule.Protocol),
		}
		for _, cidr := range rule.CidrBlocks {
			perm.IpRanges = append(perm.IpRanges, types.IpRange{CidrIp: aws.String(cidr)})
		}
		perms = append(perms, perm)
	}
	return perms
}

// tagResource best-effort applies tags plus a Name tag.
func (p *Provider) tagResource(ctx context.Context, id, name string, extra map[string]string) {
	tags := []types.Tag{{Key: aws.String("Name"), Value: aws.String(name)}}
	for k, v := range extra {
		tags = append(tags, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      tags,
	})
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
