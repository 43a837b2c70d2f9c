package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadFile_Resources(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "aws:EC2.Vpc" "main" {
  cidr_block           = "10.0.0.0/16"
  enable_dns_hostnames = true
  tags = {
    env = "test"
  }
}

resource "aws:EC2.Subnet" "app" {
  vpc_id     = "ref://aws:EC2.Vpc/main/id"
  cidr_block = "10.0.1.0/24"
  depends_on = ["aws:EC2.Vpc.main"]
  timeout    = "10m"
}

output "vpc_id" {
  value = "ref://aws:EC2.Vpc/main/id"
}
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Resources, 2)

	vpc := cfg.Resources[0]
	assert.Equal(t, "aws:EC2.Vpc", vpc.Type)
	assert.Equal(t, "main", vpc.Name)
	assert.Equal(t, "aws", vpc.Provider, "provider should be inferred from the type scheme")
	assert.Equal(t, "10.0.0.0/16", vpc.Properties["cidr_block"])
	assert.Equal(t, true, vpc.Properties["enable_dns_hostnames"])
	assert.Equal(t, map[string]any{"env": "test"}, vpc.Properties["tags"])

	subnet := cfg.Resources[1]
	assert.Equal(t, []string{"aws:EC2.Vpc.main"}, subnet.DependsOn)
	assert.Equal(t, "10m", subnet.Timeout)
	assert.Equal(t, "ref://aws:EC2.Vpc/main/id", subnet.Properties["vpc_id"])
	assert.NotContains(t, subnet.Properties, "depends_on")
	assert.NotContains(t, subnet.Properties, "timeout")

	assert.Equal(t, "ref://aws:EC2.Vpc/main/id", cfg.Outputs["vpc_id"])
}

func TestLoadFile_ExplicitProviderWins(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "aws:EC2.Vpc" "main" {
  provider   = "mem"
  cidr_block = "10.0.0.0/16"
}
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mem", cfg.Resources[0].Provider)
}

func TestLoadFile_UnschemedTypeFallsBackToNull(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "null_resource" "probe" {
  triggers = {
    when = "always"
  }
}
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "null", cfg.Resources[0].Provider)
}

func TestLoadFile_Lifecycle(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "aws:EC2.Vpc" "main" {
  cidr_block = "10.0.0.0/16"

  lifecycle {
    prevent_destroy = true
    ignore_changes  = ["tags"]
  }
}
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	lc := cfg.Resources[0].Lifecycle
	require.NotNil(t, lc)
	assert.True(t, lc.PreventDestroy)
	assert.False(t, lc.CreateBeforeDestroy)
	assert.Equal(t, []string{"tags"}, lc.IgnoreChanges)
}

func TestLoadFile_LifecycleAlongsideProperties(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "aws:EC2.Instance" "web" {
  ami           = "ami-0abc"
  instance_type = "t3.micro"
  depends_on    = ["aws:EC2.Vpc.main"]

  lifecycle {
    create_before_destroy = true
  }
}
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	res := cfg.Resources[0]
	require.NotNil(t, res.Lifecycle)
	assert.True(t, res.Lifecycle.CreateBeforeDestroy)
	assert.Equal(t, "ami-0abc", res.Properties["ami"])
	assert.Equal(t, []string{"aws:EC2.Vpc.main"}, res.DependsOn)
}

func TestLoadFile_UnsupportedNestedBlock(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "aws:EC2.Vpc" "main" {
  cidr_block = "10.0.0.0/16"

  provisioner {
    command = "true"
  }
}
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported block "provisioner"`)
}

func TestLoadFile_CountAndForEach(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "aws:EC2.Instance" "web" {
  count = 3
  ami   = "ami-0abc"
}

resource "aws:S3.Bucket" "store" {
  for_each = {
    logs = "logs-bucket"
    data = "data-bucket"
  }
  bucket = "$${each.value}"
}
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Resources, 2)

	assert.Equal(t, 3, cfg.Resources[0].Count)
	assert.NotContains(t, cfg.Resources[0].Properties, "count")
	assert.Equal(t, map[string]any{"logs": "logs-bucket", "data": "data-bucket"}, cfg.Resources[1].ForEach)
	assert.Equal(t, "${each.value}", cfg.Resources[1].Properties["bucket"],
		"escaped interpolation must decode to the literal placeholder")
}

func TestLoadFile_NegativeCount(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "aws:EC2.Instance" "web" {
  count = -1
  ami   = "ami-0abc"
}
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count must not be negative")
}

func TestLoadFile_NumbersAndLists(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "docker:Container" "web" {
  image = "nginx:1.27"
  ports = [8080, 8443]
  cpu_shares = 1.5
}
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	props := cfg.Resources[0].Properties
	assert.Equal(t, []any{int64(8080), int64(8443)}, props["ports"])
	assert.Equal(t, 1.5, props["cpu_shares"])
}

func TestLoadFile_InvalidTimeout(t *testing.T) {
	path := writeConfig(t, "main.hcl", `
resource "null_resource" "a" {
  timeout = "soon"
}
`)

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestLoadFile_SyntaxError(t *testing.T) {
	path := writeConfig(t, "main.hcl", `resource "null_resource" {`)
	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestLoadDir_MergesAndDetectsDuplicates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(`
resource "null_resource" "a" {}
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(`
resource "null_resource" "b" {}

output "note" {
  value = "hi"
}
`), 0644))

	cfg, err := LoadDir(dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Resources, 2)
	assert.Equal(t, "hi", cfg.Outputs["note"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.hcl"), []byte(`
resource "null_resource" "a" {}
`), 0644))

	_, err = LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared in both")
}

func TestLoadDir_Empty(t *testing.T) {
	_, err := LoadDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .hcl files")
}
