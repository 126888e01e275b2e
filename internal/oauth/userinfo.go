// userinfo.go -- Userinfo lookup, access token validation, and claims resolution.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

// FallbackName is the display name given to a synthesized identity.
const FallbackName = "Visio User"

// fetchUserInfo calls the userinfo endpoint with at as bearer token.
func (c *Client) fetchUserInfo(ctx context.Context, accessToken string) (*oidc.UserInfo, error) {
	if c.cfg.UserInfoEndpoint == "" {
		return nil, errors.New("no userinfo endpoint configured")
	}
	if accessToken == "" {
		return nil, errors.New("empty access token")
	}
	ctx = oidc.ClientContext(ctx, c.httpClient)
	return c.userInfo.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
}

// UserInfo fetches claims for accessToken. Any failure (transport, non-200, malformed body,
// missing subject) yields a SourceFallback result with a synthesized identity; it never errors.
func (c *Client) UserInfo(ctx context.Context, accessToken string) ClaimsResult {
	ctx, span := c.tel.StartSpan(ctx, "oauth.userinfo", attribute.String("provider.name", c.cfg.Name))
	defer span.End()

	ui, err := c.fetchUserInfo(ctx, accessToken)
	if err != nil {
		c.logger.Warn("userinfo request failed, using fallback identity", "error", err)
		span.SetAttributes(attribute.String("claims.source", SourceFallback.String()))
		return c.fallback()
	}
	var mc jwt.MapClaims
	if err := ui.Claims(&mc); err != nil || ui.Subject == "" {
		c.logger.Warn("userinfo response unusable, using fallback identity", "has_subject", ui.Subject != "")
		span.SetAttributes(attribute.String("claims.source", SourceFallback.String()))
		return c.fallback()
	}
	claims := claimsFromMap(mc)
	claims.Subject = ui.Subject
	if claims.Email == "" {
		claims.Email = ui.Email
	}
	span.SetAttributes(attribute.String("claims.source", SourceUserInfo.String()))
	return ClaimsResult{Claims: claims, Source: SourceUserInfo, Raw: mc}
}

// fallback synthesizes a placeholder identity. The subject is not stable across logins.
func (c *Client) fallback() ClaimsResult {
	return ClaimsResult{
		Claims: Claims{
			Subject: fmt.Sprintf("user_%d", c.now().UnixMilli()),
			Name:    FallbackName,
		},
		Source: SourceFallback,
	}
}

// ValidateAccessToken reports whether the provider still accepts accessToken, probing the
// userinfo endpoint. Any failure counts as invalid.
func (c *Client) ValidateAccessToken(ctx context.Context, accessToken string) bool {
	_, err := c.fetchUserInfo(ctx, accessToken)
	return err == nil
}

// ResolveClaims prefers the id_token payload when it carries a subject and otherwise asks
// the userinfo endpoint.
func (c *Client) ResolveClaims(ctx context.Context, tok *TokenResponse) ClaimsResult {
	if tok == nil {
		return c.fallback()
	}
	if tok.IDToken != "" {
		if res := DecodeIDToken(tok.IDToken); res.Source == SourceIDToken && res.Claims.Subject != "" {
			return res
		}
		c.logger.Debug("id_token carried no usable claims, querying userinfo")
	}
	return c.UserInfo(ctx, tok.AccessToken)
}

// Expired reports whether tok's access token is past its expiry at now.
// Tokens without a known expiry never expire locally.
func Expired(tok *TokenResponse, now time.Time) bool {
	return tok != nil && !tok.Expiry.IsZero() && !now.Before(tok.Expiry)
}
