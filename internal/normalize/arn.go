// Package normalize turns tag-search entries into canonical resource records.
// Everything here is pure: no I/O, no clock.
package normalize

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/yairfalse/kartta/pkg/resource"
)

// Entry is a single tag-search result.
type Entry struct {
	ARN  string
	Tags map[string]string
}

// Parsed holds the positional components of an ARN.
type Parsed struct {
	Partition string
	Service   string
	Region    string
	AccountID string
	// Descriptor is everything after the account segment, colons included.
	Descriptor string
	// TypeKey is the descriptor prefix used for type lookup ("instance", "function").
	TypeKey string
}

// ParseARN splits an ARN into its components.
// Returns false for identifiers with fewer than six colon-separated segments.
func ParseARN(raw string) (Parsed, bool) {
	if !arn.IsARN(raw) {
		return Parsed{}, false
	}
	a, err := arn.Parse(raw)
	if err != nil {
		return Parsed{}, false
	}

	p := Parsed{
		Partition:  a.Partition,
		Service:    a.Service,
		Region:     a.Region,
		AccountID:  a.AccountID,
		Descriptor: a.Resource,
	}
	p.TypeKey = typeKey(a.Service, a.Resource)
	return p, true
}

// typeKey returns the resource prefix before the first '/' or ':'.
func typeKey(service, descriptor string) string {
	if service == "apigateway" {
		// /restapis/abc123 or /restapis/abc123/stages/prod
		segs := strings.Split(strings.TrimPrefix(descriptor, "/"), "/")
		if len(segs) >= 2 {
			return segs[len(segs)-2]
		}
	}

	if i := strings.IndexAny(descriptor, "/:"); i >= 0 {
		return descriptor[:i]
	}
	if bare, ok := bareResourceTypes[service]; ok {
		return bare
	}
	return descriptor
}

// ParseResource builds a resource record from a tag-search entry.
// Returns nil when the identifier is not a well-formed ARN.
func ParseResource(entry Entry, region string) *resource.Resource {
	p, ok := ParseARN(entry.ARN)
	if !ok {
		return nil
	}

	tags := make(map[string]string, len(entry.Tags))
	for k, v := range entry.Tags {
		if k == "" {
			continue
		}
		tags[k] = v
	}

	name := tags["Name"]
	if name == "" {
		name = DisplayName(p.Descriptor)
	}

	if region == "" {
		region = p.Region
	}

	return &resource.Resource{
		ARN:       entry.ARN,
		AccountID: p.AccountID,
		Region:    region,
		Type:      NormalizeType(p.Service, p.TypeKey),
		Name:      name,
		Tags:      tags,
		RawMetadata: map[string]string{
			"partition":    p.Partition,
			"service":      p.Service,
			"arnRegion":    p.Region,
			"resource":     p.Descriptor,
			"resourceType": p.TypeKey,
		},
		Health: resource.HealthUnknown,
	}
}

// DisplayName derives a name from the last '/' segment of the descriptor,
// or the last ':' segment when the descriptor has no '/'.
func DisplayName(descriptor string) string {
	if i := strings.LastIndex(descriptor, "/"); i >= 0 {
		return descriptor[i+1:]
	}
	if i := strings.LastIndex(descriptor, ":"); i >= 0 {
		return descriptor[i+1:]
	}
	return descriptor
}
