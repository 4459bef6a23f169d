package verification

import (
	"context"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/hcaptcha"
)

// ChallengeParams is what the browser needs to render a challenge.
type ChallengeParams struct {
	SiteKey string
}

// ProviderRequest carries a solved challenge back to the provider.
type ProviderRequest struct {
	Response string
	RemoteIP string
}

// ProviderResult is the provider's verdict. Action is empty when the
// provider does not report one.
type ProviderResult struct {
	Accepted bool
	Action   string
	Reasons  []string
}

// Provider is the external human-verification service. Errors mean the
// provider could not be asked, never that the human failed.
type Provider interface {
	IssueChallenge(ctx context.Context, action enums.VerificationAction) (ChallengeParams, error)
	Validate(ctx context.Context, req ProviderRequest) (ProviderResult, error)
}

// HCaptchaProvider adapts the siteverify client to Provider.
type HCaptchaProvider struct {
	client *hcaptcha.Client
}

func NewHCaptchaProvider(client *hcaptcha.Client) *HCaptchaProvider {
	return &HCaptchaProvider{client: client}
}

func (p *HCaptchaProvider) IssueChallenge(context.Context, enums.VerificationAction) (ChallengeParams, error) {
	return ChallengeParams{SiteKey: p.client.SiteKey()}, nil
}

func (p *HCaptchaProvider) Validate(ctx context.Context, req ProviderRequest) (ProviderResult, error) {
	res, err := p.client.Verify(ctx, hcaptcha.VerifyRequest{
		Response: req.Response,
		RemoteIP: req.RemoteIP,
	})
	if err != nil {
		return ProviderResult{}, err
	}
	return ProviderResult{
		Accepted: res.Success,
		Action:   res.Action,
		Reasons:  res.ErrorCodes,
	}, nil
}
