package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/skiff-io/skiff/internal/runner"
)

// LoadPlaybook reads and validates a YAML playbook file.
func LoadPlaybook(path string) (*runner.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading playbook: %w", err)
	}
	return ParsePlaybook(data)
}

// ParsePlaybook decodes playbook YAML. Unknown fields are rejected so
// typos like "comand" fail loudly instead of running an empty step.
func ParsePlaybook(data []byte) (*runner.Playbook, error) {
	var pb runner.Playbook
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&pb); err != nil {
		return nil, fmt.Errorf("parsing playbook: %w", err)
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return &pb, nil
}
