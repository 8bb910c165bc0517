package filter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/kartta/pkg/resource"
)

func res(arn, typ string, tags map[string]string) resource.Resource {
	return resource.Resource{ARN: arn, Type: typ, Tags: tags}
}

func TestShouldScanType(t *testing.T) {
	f := New(nil, nil, nil)
	assert.True(t, f.ShouldScanType("EC2::Instance"))

	f = New([]string{"IAM::Role", "CloudWatchLogs::LogGroup"}, nil, nil)
	assert.True(t, f.ShouldScanType("EC2::Instance"))
	assert.False(t, f.ShouldScanType("IAM::Role"))
	assert.False(t, f.ShouldScanType("CloudWatchLogs::LogGroup"))
}

func TestShouldIncludeResource(t *testing.T) {
	tests := []struct {
		name    string
		exclude []string
		include map[string]string
		skip    map[string]string
		tags    map[string]string
		want    bool
	}{
		{"no filters", nil, nil, nil, map[string]string{"env": "prod"}, true},
		{"excluded type", []string{"EC2::Instance"}, nil, nil, nil, false},
		{"include match", nil, map[string]string{"env": "prod"}, nil, map[string]string{"env": "prod", "team": "platform"}, true},
		{"include mismatch", nil, map[string]string{"env": "prod"}, nil, map[string]string{"env": "staging"}, false},
		{"include requires all", nil, map[string]string{"env": "prod", "team": "platform"}, nil, map[string]string{"env": "prod"}, false},
		{"include with nil tags", nil, map[string]string{"env": "prod"}, nil, nil, false},
		{"exclude match", nil, nil, map[string]string{"do-not-scan": "true"}, map[string]string{"do-not-scan": "true"}, false},
		{"exclude any match", nil, nil, map[string]string{"skip": "true", "ignore": "yes"}, map[string]string{"ignore": "yes"}, false},
		{"exclude no match", nil, nil, map[string]string{"skip": "true"}, map[string]string{"env": "prod"}, true},
		{"include and exclude both match", nil, map[string]string{"env": "prod"}, map[string]string{"skip": "true"}, map[string]string{"env": "prod", "skip": "true"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.exclude, tt.include, tt.skip)
			r := res("arn:aws:ec2:us-east-1:123456789012:instance/i-1", "EC2::Instance", tt.tags)
			assert.Equal(t, tt.want, f.ShouldIncludeResource(context.Background(), r))
		})
	}
}

func TestFilterResources(t *testing.T) {
	f := New(nil, map[string]string{"env": "prod"}, nil)
	resources := []resource.Resource{
		res("a", "EC2::Instance", map[string]string{"env": "prod"}),
		res("b", "EC2::Instance", map[string]string{"env": "staging"}),
		res("c", "EC2::Instance", map[string]string{"env": "prod"}),
	}

	filtered := f.FilterResources(context.Background(), resources)
	require.Len(t, filtered, 2)
	assert.Equal(t, "a", filtered[0].ARN)
	assert.Equal(t, "c", filtered[1].ARN)
}

func TestFilterResources_NilFilterKeepsAll(t *testing.T) {
	var f *Filter
	resources := []resource.Resource{res("a", "EC2::Instance", nil)}
	assert.Equal(t, resources, f.FilterResources(context.Background(), resources))
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, New(nil, nil, nil).IsEmpty())
	assert.False(t, New([]string{"EC2::Instance"}, nil, nil).IsEmpty())
	assert.False(t, New(nil, map[string]string{"env": "prod"}, nil).IsEmpty())
	assert.False(t, New(nil, nil, map[string]string{"skip": "true"}).IsEmpty())
}

// ═══════════════════════════════════════════════════════
// Policy
// ═══════════════════════════════════════════════════════

const sandboxPolicy = `package kartta

exclude if input.resource.tags.env == "sandbox"

exclude if startswith(input.resource.name, "tmp-")
`

func TestPolicy_Excludes(t *testing.T) {
	f := New(nil, nil, nil)
	require.NoError(t, f.SetPolicy(context.Background(), "sandbox.rego", sandboxPolicy))
	assert.False(t, f.IsEmpty())

	sandbox := res("a", "S3::Bucket", map[string]string{"env": "sandbox"})
	tmp := resource.Resource{ARN: "b", Type: "S3::Bucket", Name: "tmp-build"}
	prod := res("c", "S3::Bucket", map[string]string{"env": "prod"})
	untagged := res("d", "S3::Bucket", nil)

	ctx := context.Background()
	assert.False(t, f.ShouldIncludeResource(ctx, sandbox))
	assert.False(t, f.ShouldIncludeResource(ctx, tmp))
	assert.True(t, f.ShouldIncludeResource(ctx, prod))
	assert.True(t, f.ShouldIncludeResource(ctx, untagged), "undefined rule keeps the resource")
}

func TestPolicy_CompileError(t *testing.T) {
	f := New(nil, nil, nil)
	err := f.SetPolicy(context.Background(), "broken.rego", "package kartta\nexclude if {")
	assert.Error(t, err)
	assert.True(t, f.IsEmpty())
}

func TestLoadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.rego")
	require.NoError(t, os.WriteFile(path, []byte(sandboxPolicy), 0o600))

	f := New(nil, nil, nil)
	require.NoError(t, f.LoadPolicy(context.Background(), path))

	kept := f.FilterResources(context.Background(), []resource.Resource{
		res("a", "S3::Bucket", map[string]string{"env": "sandbox"}),
		res("b", "S3::Bucket", map[string]string{"env": "prod"}),
	})
	require.Len(t, kept, 1)
	assert.Equal(t, "b", kept[0].ARN)
}

func TestLoadPolicy_MissingFile(t *testing.T) {
	f := New(nil, nil, nil)
	err := f.LoadPolicy(context.Background(), filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)
}
