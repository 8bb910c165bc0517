package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	rgt "github.com/aws/aws-sdk-go-v2/service/resourcegroupstaggingapi"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/yairfalse/kartta/internal/account"
	"github.com/yairfalse/kartta/internal/tagging"
)

// Verifier checks account credentials with a single tagging call in the
// default region.
type Verifier struct {
	tagging  func(ctx context.Context, creds account.Credentials, region string) (tagging.API, error)
	identity func(ctx context.Context, creds account.Credentials, region string) (STSAPI, error)
}

// NewVerifier creates a verifier using clients from f.
func NewVerifier(f *Factory) *Verifier {
	return &Verifier{
		tagging:  f.Tagging,
		identity: f.Identity,
	}
}

// Verify issues one GetResources call with ResourcesPerPage=1. When creds
// carry no account id it is resolved through STS.
func (v *Verifier) Verify(ctx context.Context, creds account.Credentials) (string, error) {
	api, err := v.tagging(ctx, creds, creds.DefaultRegion)
	if err != nil {
		return "", err
	}

	if _, err := api.GetResources(ctx, &rgt.GetResourcesInput{
		ResourcesPerPage: aws.Int32(1),
	}); err != nil {
		return "", fmt.Errorf("get resources: %w", err)
	}

	if creds.AccountID != "" {
		return creds.AccountID, nil
	}

	stsAPI, err := v.identity(ctx, creds, creds.DefaultRegion)
	if err != nil {
		return "", err
	}
	out, err := stsAPI.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	id := aws.ToString(out.Account)
	if id == "" {
		return "", errors.New("caller identity has no account")
	}
	return id, nil
}
