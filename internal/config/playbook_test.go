package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlaybook(t *testing.T) {
	pb, err := ParsePlaybook([]byte(`
name: bring-up web
user: ubuntu
steps:
  - name: update package index
    command: apt-get update
    become: true
  - name: install nginx
    command: apt-get install -y nginx
    become: true
    creates: /usr/sbin/nginx
  - name: drop app config
    command: cp /tmp/app.conf /srv/app/app.conf
    become: true
    become_user: app
`))
	require.NoError(t, err)

	assert.Equal(t, "bring-up web", pb.Name)
	assert.Equal(t, "ubuntu", pb.User)
	require.Len(t, pb.Steps, 3)

	assert.Equal(t, "apt-get update", pb.Steps[0].Command)
	assert.True(t, pb.Steps[0].Become)
	assert.Empty(t, pb.Steps[0].BecomeUser)

	assert.Equal(t, "/usr/sbin/nginx", pb.Steps[1].Creates)
	assert.Equal(t, "app", pb.Steps[2].BecomeUser)
}

func TestParsePlaybook_NoSteps(t *testing.T) {
	_, err := ParsePlaybook([]byte("name: empty\nsteps: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestParsePlaybook_MissingCommand(t *testing.T) {
	_, err := ParsePlaybook([]byte(`
name: broken
steps:
  - name: does nothing
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command")
}

func TestParsePlaybook_BecomeUserRequiresBecome(t *testing.T) {
	_, err := ParsePlaybook([]byte(`
name: broken
steps:
  - name: half-configured escalation
    command: id
    become_user: app
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "become_user")
}

func TestParsePlaybook_UnknownFieldRejected(t *testing.T) {
	_, err := ParsePlaybook([]byte(`
name: typo
steps:
  - name: oops
    comand: echo hi
`))
	require.Error(t, err)
}
