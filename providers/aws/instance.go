package aws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	pv "github.com/skiff-io/skiff/pkg/provider"
)

const instanceRunningWait = 5 * time.Minute

type InstanceConfig struct {
	AMI              string            `json:"ami"`
	InstanceType     string            `json:"instance_type"`
	SubnetID         string            `json:"subnet_id,omitempty"`
	SecurityGroupIDs []string          `json:"security_group_ids,omitempty"`
	KeyName          string            `json:"key_name,omitempty"`
	UserData         string            `json:"user_data,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
}

type InstanceState struct {
	ID        string `json:"id"`
	AMI       string `json:"ami"`
	Type      string `json:"instance_type"`
	PublicIP  string `json:"public_ip,omitempty"`
	PrivateIP string `json:"private_ip,omitempty"`
}

func (p *Provider) planInstance(ctx context.Context, req *pv.PlanRequest) (*pv.PlanResponse, error) {
	var prior InstanceState
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	var desired InstanceConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	// Drift check against the live API. A missing or terminated
	// instance means state is stale and the resource must be recreated.
	instance, err := p.describeInstance(ctx, prior.ID)
	if err != nil {
		return nil, err
	}
	if instance == nil || instance.State.Name == types.InstanceStateNameTerminated {
		return &pv.PlanResponse{Action: pv.ActionCreate}, nil
	}

	// AMI and instance type are immutable in place.
	if aws.ToString(instance.ImageId) != desired.AMI {
		return &pv.PlanResponse{Action: pv.ActionReplace, ChangedAttributes: []string{"ami"}}, nil
	}
	if string(instance.InstanceType) != desired.InstanceType {
		return &pv.PlanResponse{Action: pv.ActionReplace, ChangedAttributes: []string{"instance_type"}}, nil
	}

	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func (p *Provider) readInstance(ctx context.Context, req *pv.ReadRequest) (*pv.ReadResponse, error) {
	instance, err := p.describeInstance(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if instance == nil || instance.State.Name == types.InstanceStateNameTerminated {
		return &pv.ReadResponse{Exists: false}, nil
	}

	state := instanceStateFrom(instance)
	stateJSON, _ := json.Marshal(state)
	return &pv.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
}

func (p *Provider) applyInstance(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredJSON == nil {
		var prior InstanceState
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
				InstanceIds: []string{prior.ID},
			})
			if err != nil {
				return nil, fmt.Errorf("failed to terminate instance: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired InstanceConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	// In-place update: only tags are mutable.
	if req.PriorJSON != nil {
		var prior InstanceState
		if err := json.Unmarshal(req.PriorJSON, &prior); err == nil && prior.ID != "" {
			p.tagResource(ctx, prior.ID, req.Name, desired.Tags)
			return &pv.ApplyResponse{StateJSON: req.PriorJSON}, nil
		}
	}

	runInput := &ec2.RunInstancesInput{
		ImageId:      &desired.AMI,
		InstanceType: types.InstanceType(desired.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
	}
	if desired.SubnetID != "" {
		runInput.SubnetId = &desired.SubnetID
	}
	if len(desired.SecurityGroupIDs) > 0 {
		runInput.SecurityGroupIds = desired.SecurityGroupIDs
	}
	if desired.KeyName != "" {
		runInput.KeyName = &desired.KeyName
	}
	if desired.UserData != "" {
		runInput.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(desired.UserData)))
	}

	resp, err := p.ec2Client.RunInstances(ctx, runInput)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(resp.Instances) == 0 {
		return nil, fmt.Errorf("no instances created")
	}
	id := aws.ToString(resp.Instances[0].InstanceId)

	waiter := ec2.NewInstanceRunningWaiter(p.ec2Client)
	out, err := waiter.WaitForOutput(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	}, instanceRunningWait)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for instance running: %w", err)
	}

	p.tagResource(ctx, id, req.Name, desired.Tags)

	// Re-describe so the recorded state includes the assigned addresses.
	instance := &out.Reservations[0].Instances[0]
	state := instanceStateFrom(instance)
	stateJSON, _ := json.Marshal(state)
	return &pv.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) describeInstance(ctx context.Context, id string) (*types.Instance, error) {
	if id == "" {
		return nil, nil
	}
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id},
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "InvalidInstanceID.NotFound" {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to describe instance %s: %w", id, err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return nil, nil
	}
	return &resp.Reservations[0].Instances[0], nil
}

func instanceStateFrom(instance *types.Instance) InstanceState {
	return InstanceState{
		ID:        aws.ToString(instance.InstanceId),
		AMI:       aws.ToString(instance.ImageId),
		Type:      string(instance.InstanceType),
		PublicIP:  aws.ToString(instance.PublicIpAddress),
		PrivateIP: aws.ToString(instance.PrivateIpAddress),
	}
}
