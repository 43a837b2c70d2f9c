package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/skiff-io/skiff/internal/ir"
	"github.com/skiff-io/skiff/internal/logging"
)

var configSchema = &hcl.BodySchema{
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "resource", LabelNames: []string{"type", "name"}},
		{Type: "output", LabelNames: []string{"name"}},
	},
}

var lifecycleAttrSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "create_before_destroy"},
		{Name: "prevent_destroy"},
		{Name: "ignore_changes"},
	},
}

// Reserved attribute names on resource blocks. Everything else is
// passed through to the provider as a property.
const (
	attrProvider  = "provider"
	attrDependsOn = "depends_on"
	attrTimeout   = "timeout"
	attrCount     = "count"
	attrForEach   = "for_each"
)

// LoadFile parses a single resource configuration file.
func LoadFile(path string) (*ir.Config, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing %s: %w", path, diags)
	}
	return decodeConfig(file.Body)
}

// LoadDir parses every .hcl file in dir and merges them into one
// configuration. Files are visited in lexical order so diagnostics
// and duplicate detection are stable.
func LoadDir(dir string) (*ir.Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading config directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".hcl") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("no .hcl files found in %s", dir)
	}

	merged := &ir.Config{Outputs: map[string]any{}}
	seen := make(map[string]string)
	for _, path := range paths {
		cfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, res := range cfg.Resources {
			addr := res.Type + "." + res.Name
			if prev, ok := seen[addr]; ok {
				return nil, fmt.Errorf("resource %s declared in both %s and %s", addr, prev, path)
			}
			seen[addr] = path
			merged.Resources = append(merged.Resources, res)
		}
		for name, value := range cfg.Outputs {
			merged.Outputs[name] = value
		}
	}
	logging.Debug("loaded configuration", "files", len(paths), "resources", len(merged.Resources))
	return merged, nil
}

func decodeConfig(body hcl.Body) (*ir.Config, error) {
	content, diags := body.Content(configSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	cfg := &ir.Config{Outputs: map[string]any{}}
	for _, block := range content.Blocks {
		switch block.Type {
		case "resource":
			res, err := decodeResource(block)
			if err != nil {
				return nil, err
			}
			cfg.Resources = append(cfg.Resources, res)
		case "output":
			name := block.Labels[0]
			value, err := decodeOutput(block)
			if err != nil {
				return nil, fmt.Errorf("output %q: %w", name, err)
			}
			cfg.Outputs[name] = value
		}
	}
	return cfg, nil
}

func decodeResource(block *hcl.Block) (*ir.Resource, error) {
	res := &ir.Resource{
		Type:       block.Labels[0],
		Name:       block.Labels[1],
		Properties: map[string]any{},
	}
	addr := res.Type + "." + res.Name

	// Work on the syntax body directly: a schema-driven JustAttributes
	// on the remainder rejects bodies that carry nested blocks.
	body, ok := block.Body.(*hclsyntax.Body)
	if !ok {
		return nil, fmt.Errorf("resource %s: expected native HCL syntax", addr)
	}

	for _, nested := range body.Blocks {
		if nested.Type != "lifecycle" {
			return nil, fmt.Errorf("resource %s: unsupported block %q", addr, nested.Type)
		}
		lifecycle, err := decodeLifecycle(nested.AsHCLBlock())
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", addr, err)
		}
		res.Lifecycle = lifecycle
	}

	names := make([]string, 0, len(body.Attributes))
	for name := range body.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr := body.Attributes[name]
		value, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, fmt.Errorf("resource %s, attribute %q: %w", addr, name, valDiags)
		}

		switch name {
		case attrProvider:
			if value.Type().FriendlyName() != "string" {
				return nil, fmt.Errorf("resource %s: provider must be a string", addr)
			}
			res.Provider = value.AsString()
		case attrDependsOn:
			deps, err := stringList(value)
			if err != nil {
				return nil, fmt.Errorf("resource %s: depends_on: %w", addr, err)
			}
			res.DependsOn = deps
		case attrTimeout:
			raw := value.AsString()
			if _, err := time.ParseDuration(raw); err != nil {
				return nil, fmt.Errorf("resource %s: invalid timeout %q: %w", addr, raw, err)
			}
			res.Timeout = raw
		case attrCount:
			if value.Type() != cty.Number {
				return nil, fmt.Errorf("resource %s: count must be a number", addr)
			}
			n, _ := value.AsBigFloat().Int64()
			if n < 0 {
				return nil, fmt.Errorf("resource %s: count must not be negative", addr)
			}
			res.Count = int(n)
		case attrForEach:
			native, err := ctyToNative(value)
			if err != nil {
				return nil, fmt.Errorf("resource %s: for_each: %w", addr, err)
			}
			entries, ok := native.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("resource %s: for_each must be a map", addr)
			}
			res.ForEach = entries
		default:
			native, err := ctyToNative(value)
			if err != nil {
				return nil, fmt.Errorf("resource %s, attribute %q: %w", addr, name, err)
			}
			res.Properties[name] = native
		}
	}

	if res.Provider == "" {
		res.Provider = inferProvider(res.Type)
	}
	return res, nil
}

func decodeLifecycle(block *hcl.Block) (*ir.Lifecycle, error) {
	content, diags := block.Body.Content(lifecycleAttrSchema)
	if diags.HasErrors() {
		return nil, diags
	}

	lc := &ir.Lifecycle{}
	for name, attr := range content.Attributes {
		value, valDiags := attr.Expr.Value(nil)
		if valDiags.HasErrors() {
			return nil, valDiags
		}
		switch name {
		case "create_before_destroy":
			lc.CreateBeforeDestroy = value.True()
		case "prevent_destroy":
			lc.PreventDestroy = value.True()
		case "ignore_changes":
			ignored, err := stringList(value)
			if err != nil {
				return nil, fmt.Errorf("ignore_changes: %w", err)
			}
			lc.IgnoreChanges = ignored
		}
	}
	return lc, nil
}

func decodeOutput(block *hcl.Block) (any, error) {
	attrs, diags := block.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, diags
	}
	attr, ok := attrs["value"]
	if !ok {
		return nil, fmt.Errorf("missing required attribute %q", "value")
	}
	value, valDiags := attr.Expr.Value(nil)
	if valDiags.HasErrors() {
		return nil, valDiags
	}
	return ctyToNative(value)
}

// inferProvider derives the provider name from a type like
// "aws:EC2.Instance". Types without a scheme fall back to null.
func inferProvider(resourceType string) string {
	if idx := strings.Index(resourceType, ":"); idx > 0 {
		return resourceType[:idx]
	}
	return "null"
}
