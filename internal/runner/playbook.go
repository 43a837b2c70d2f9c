package runner

import "fmt"

// Step is a single unit of work executed on the target. Steps run
// strictly in the order they are declared.
type Step struct {
	Name       string `yaml:"name"`
	Command    string `yaml:"command"`
	Become     bool   `yaml:"become,omitempty"`
	BecomeUser string `yaml:"become_user,omitempty"`
	Creates    string `yaml:"creates,omitempty"`
}

// Playbook is an ordered list of steps plus the connection defaults
// used when dialing the target.
type Playbook struct {
	Name  string `yaml:"name"`
	User  string `yaml:"user,omitempty"`
	Port  int    `yaml:"port,omitempty"`
	Steps []Step `yaml:"steps"`
}

// Validate checks the playbook for structural problems before any
// connection is attempted.
func (p *Playbook) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("playbook %q has no steps", p.Name)
	}
	for i, step := range p.Steps {
		if step.Command == "" {
			return fmt.Errorf("playbook %q: step %d (%s) has no command", p.Name, i, step.Name)
		}
		if step.BecomeUser != "" && !step.Become {
			return fmt.Errorf("playbook %q: step %d (%s) sets become_user without become", p.Name, i, step.Name)
		}
	}
	return nil
}
