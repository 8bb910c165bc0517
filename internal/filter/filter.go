// Package filter decides which discovered resources are kept.
package filter

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/kartta/pkg/resource"
)

// PolicyQuery is the rule a policy module defines to drop resources.
const PolicyQuery = "data.kartta.exclude"

// Filter controls which resource types and resources are kept.
type Filter struct {
	excludeTypes map[string]bool
	includeTags  map[string]string
	excludeTags  map[string]string
	policy       *rego.PreparedEvalQuery
}

// New creates a new Filter from the provided configuration.
func New(excludeTypes []string, includeTags, excludeTags map[string]string) *Filter {
	excludeMap := make(map[string]bool)
	for _, t := range excludeTypes {
		excludeMap[t] = true
	}

	return &Filter{
		excludeTypes: excludeMap,
		includeTags:  includeTags,
		excludeTags:  excludeTags,
	}
}

// LoadPolicy compiles the rego module at path into the filter.
func (f *Filter) LoadPolicy(ctx context.Context, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy %s: %w", path, err)
	}
	return f.SetPolicy(ctx, path, string(src))
}

// SetPolicy compiles module, which must define data.kartta.exclude.
func (f *Filter) SetPolicy(ctx context.Context, name, module string) error {
	prepared, err := rego.New(
		rego.Query(PolicyQuery),
		rego.Module(name, module),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compile policy %s: %w", name, err)
	}
	f.policy = &prepared
	return nil
}

// ShouldScanType reports whether a canonical resource type is kept.
func (f *Filter) ShouldScanType(typ string) bool {
	return !f.excludeTypes[typ]
}

// ShouldIncludeResource reports whether r passes the type, tag and policy filters.
func (f *Filter) ShouldIncludeResource(ctx context.Context, r resource.Resource) bool {
	if !f.ShouldScanType(r.Type) {
		return false
	}

	// include tags: ALL must match
	for k, v := range f.includeTags {
		if r.Tags == nil || r.Tags[k] != v {
			return false
		}
	}

	// exclude tags: ANY match excludes
	for k, v := range f.excludeTags {
		if r.Tags != nil && r.Tags[k] == v {
			return false
		}
	}

	if f.policy != nil && f.policyExcludes(ctx, r) {
		return false
	}
	return true
}

// policyExcludes evaluates the policy. Evaluation errors keep the resource.
func (f *Filter) policyExcludes(ctx context.Context, r resource.Resource) bool {
	results, err := f.policy.Eval(ctx, rego.EvalInput(policyInput(r)))
	if err != nil {
		log.Warn().Err(err).Str("arn", r.ARN).Msg("filter policy evaluation failed")
		return false
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false
	}
	excluded, _ := results[0].Expressions[0].Value.(bool)
	return excluded
}

func policyInput(r resource.Resource) map[string]any {
	tags := r.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return map[string]any{
		"resource": map[string]any{
			"arn":       r.ARN,
			"type":      r.Type,
			"name":      r.Name,
			"region":    r.Region,
			"accountId": r.AccountID,
			"tags":      tags,
		},
	}
}

// FilterResources returns only resources that pass the filter.
func (f *Filter) FilterResources(ctx context.Context, resources []resource.Resource) []resource.Resource {
	if f == nil || f.IsEmpty() {
		return resources
	}

	filtered := make([]resource.Resource, 0, len(resources))
	for _, r := range resources {
		if f.ShouldIncludeResource(ctx, r) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.excludeTypes) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0 && f.policy == nil
}
