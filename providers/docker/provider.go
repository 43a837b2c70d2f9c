// Package docker implements the provider capability set against a
// local Docker daemon: containers, networks, volumes and images.
// It lets the same desired-state config that provisions cloud compute
// also describe a local container stack.
package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	pv "github.com/skiff-io/skiff/pkg/provider"
)

type Provider struct {
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) ensureClient() error {
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	return nil
}

type ContainerConfig struct {
	Name    string            `json:"name"`
	Image   string            `json:"image"`
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Ports   map[string]int    `json:"ports,omitempty"` // host port -> container port
	Volumes []string          `json:"volumes,omitempty"`
	Restart string            `json:"restart,omitempty"`
}

type ContainerState struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ImageName string `json:"image"`
}

type NetworkConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver,omitempty"`
}

type NetworkState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type VolumeConfig struct {
	Name string `json:"name"`
}

type VolumeState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p *Provider) Configure(ctx context.Context, settings map[string]string) error {
	return p.ensureClient()
}

func (p *Provider) Plan(ctx context.Context, req *pv.PlanRequest) (*pv.PlanResponse, error) {
	if req.DesiredJSON == nil && req.PriorJSON != nil {
		return &pv.PlanResponse{Action: pv.ActionDelete}, nil
	}
	if req.PriorJSON == nil {
		return &pv.PlanResponse{Action: pv.ActionCreate}, nil
	}

	if req.Type == "docker:Container" {
		var desired ContainerConfig
		if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
			return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
		}
		var prior ContainerState
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if desired.Image != prior.ImageName {
			return &pv.PlanResponse{
				Action:            pv.ActionReplace,
				ChangedAttributes: []string{"image"},
			}, nil
		}
	}
	return &pv.PlanResponse{Action: pv.ActionNoop}, nil
}

func (p *Provider) Apply(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	switch req.Type {
	case "docker:Container":
		return p.applyContainer(ctx, req)
	case "docker:Network":
		return p.applyNetwork(ctx, req)
	case "docker:Volume":
		return p.applyVolume(ctx, req)
	}
	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *pv.ReadRequest) (*pv.ReadResponse, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}

	if req.Type == "docker:Container" && req.ID != "" {
		inspect, err := p.client.ContainerInspect(ctx, req.ID)
		if err != nil {
			if client.IsErrNotFound(err) {
				return &pv.ReadResponse{Exists: false}, nil
			}
			return nil, fmt.Errorf("failed to inspect container: %w", err)
		}
		state := ContainerState{
			ID:        inspect.ID,
			Name:      inspect.Name,
			ImageName: inspect.Config.Image,
		}
		stateJSON, _ := json.Marshal(state)
		return &pv.ReadResponse{Exists: true, StateJSON: stateJSON}, nil
	}
	return &pv.ReadResponse{Exists: true, StateJSON: req.CurrentJSON}, nil
}

func (p *Provider) Delete(ctx context.Context, req *pv.DeleteRequest) error {
	if err := p.ensureClient(); err != nil {
		return err
	}
	_, err := p.Apply(ctx, &pv.ApplyRequest{Type: req.Type, PriorJSON: req.CurrentJSON})
	return err
}

func (p *Provider) applyContainer(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredJSON == nil {
		var prior ContainerState
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			timeout := 10 // seconds
			_ = p.client.ContainerStop(ctx, prior.ID, container.StopOptions{Timeout: &timeout})
			if err := p.client.ContainerRemove(ctx, prior.ID, container.RemoveOptions{Force: true}); err != nil {
				if !client.IsErrNotFound(err) {
					return nil, fmt.Errorf("failed to remove container: %w", err)
				}
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired ContainerConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	reader, err := p.client.ImagePull(ctx, desired.Image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", desired.Image, err)
	}
	_, _ = io.Copy(os.Stdout, reader)
	reader.Close()

	portBindings := nat.PortMap{}
	for hostPort, containerPort := range desired.Ports {
		p := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		portBindings[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}

	hostConfig := &container.HostConfig{
		PortBindings: portBindings,
		Binds:        desired.Volumes,
	}
	if desired.Restart != "" {
		hostConfig.RestartPolicy = container.RestartPolicy{
			Name: container.RestartPolicyMode(desired.Restart),
		}
	}

	cfg := &container.Config{
		Image: desired.Image,
		Cmd:   desired.Command,
		Env:   envList(desired.Env),
	}

	resp, err := p.client.ContainerCreate(ctx, cfg, hostConfig, &network.NetworkingConfig{}, &v1.Platform{}, desired.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	newState := ContainerState{
		ID:        resp.ID,
		Name:      desired.Name,
		ImageName: desired.Image,
	}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) applyNetwork(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredJSON == nil {
		var prior NetworkState
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.ID != "" {
			if err := p.client.NetworkRemove(ctx, prior.ID); err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove network: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired NetworkConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	resp, err := p.client.NetworkCreate(ctx, desired.Name, network.CreateOptions{
		Driver: desired.Driver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create network: %w", err)
	}

	newState := NetworkState{ID: resp.ID, Name: desired.Name}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{StateJSON: stateJSON}, nil
}

func (p *Provider) applyVolume(ctx context.Context, req *pv.ApplyRequest) (*pv.ApplyResponse, error) {
	if req.DesiredJSON == nil {
		var prior VolumeState
		if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if prior.Name != "" {
			if err := p.client.VolumeRemove(ctx, prior.Name, true); err != nil && !client.IsErrNotFound(err) {
				return nil, fmt.Errorf("failed to remove volume: %w", err)
			}
		}
		return &pv.ApplyResponse{}, nil
	}

	var desired VolumeConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	vol, err := p.client.VolumeCreate(ctx, volume.CreateOptions{Name: desired.Name})
	if err != nil {
		return nil, fmt.Errorf("failed to create volume: %w", err)
	}

	newState := VolumeState{ID: vol.Name, Name: vol.Name}
	stateJSON, _ := json.Marshal(newState)
	return &pv.ApplyResponse{StateJSON: stateJSON}, nil
}

func envList(env map[string]string) []string {
	var out []string
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
