package authcore

import (
	"context"

	"github.com/MrEthical07/authcore/oauth"
)

// OAuthProviders lists the enabled provider names.
func (e *Engine) OAuthProviders() []string {
	if e.oauth == nil {
		return nil
	}
	return e.oauth.Providers()
}

// OAuthStart returns the provider authorization URL to redirect to.
func (e *Engine) OAuthStart(ctx context.Context, provider string) (string, error) {
	if e.oauth == nil {
		return "", ErrUnsupportedProvider
	}
	u, err := e.oauth.Start(ctx, provider)
	return u, storeErr(err)
}

// OAuthCallback completes provider sign-in. It never fails: problems are
// reported as a redirect to the configured error URL.
func (e *Engine) OAuthCallback(ctx context.Context, req oauth.CallbackRequest) oauth.Redirect {
	if e.oauth == nil {
		return oauth.Redirect{URL: e.config.OAuth.ErrorURL, Err: ErrUnsupportedProvider}
	}
	return e.oauth.Callback(ctx, req)
}
