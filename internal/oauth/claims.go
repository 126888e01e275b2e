// claims.go -- Identity claims and best-effort ID token decoding.
package oauth

import (
	"encoding/json"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the normalized identity claims for the authenticated subject.
// Everything except Subject is optional; empty string means not provided.
type Claims struct {
	Subject    string // stable external user id ("sub")
	GivenName  string
	FamilyName string
	Name       string
	Email      string
}

// DisplayName joins given + family name, falling back to Name, then Email.
func (c Claims) DisplayName() string {
	if full := strings.TrimSpace(c.GivenName + " " + c.FamilyName); full != "" {
		return full
	}
	if c.Name != "" {
		return c.Name
	}
	return c.Email
}

// ClaimsSource records where a ClaimsResult came from.
type ClaimsSource int

const (
	// SourceNone means nothing could be decoded; Claims is empty.
	SourceNone ClaimsSource = iota
	// SourceIDToken means Claims came from the id_token payload.
	SourceIDToken
	// SourceUserInfo means Claims came from the userinfo endpoint.
	SourceUserInfo
	// SourceFallback means the userinfo call failed and Claims is a synthesized identity.
	SourceFallback
)

func (s ClaimsSource) String() string {
	switch s {
	case SourceIDToken:
		return "id_token"
	case SourceUserInfo:
		return "userinfo"
	case SourceFallback:
		return "fallback"
	default:
		return "none"
	}
}

// ClaimsResult is the outcome of identity resolution. Resolution never fails outright:
// a decode or userinfo failure yields a degraded result instead of an error, so callers
// can keep the login going and still see exactly what happened.
type ClaimsResult struct {
	Claims Claims
	Source ClaimsSource
	Raw    jwt.MapClaims // decoded payload; nil unless Source is SourceIDToken or SourceUserInfo
}

// Degraded reports whether the claims are empty or synthesized rather than provider-asserted.
func (r ClaimsResult) Degraded() bool {
	return r.Source == SourceNone || r.Source == SourceFallback
}

// segmentParser decodes base64url JWT segments, tolerating padded input.
var segmentParser = jwt.NewParser(jwt.WithPaddingAllowed())

// DecodeIDToken extracts claims from the payload segment of a three-part JWT without
// verifying its signature. Pure; any malformed input returns an empty SourceNone result.
func DecodeIDToken(raw string) ClaimsResult {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return ClaimsResult{Source: SourceNone}
	}
	payload, err := segmentParser.DecodeSegment(parts[1])
	if err != nil {
		return ClaimsResult{Source: SourceNone}
	}
	var mc jwt.MapClaims
	if err := json.Unmarshal(payload, &mc); err != nil || mc == nil {
		return ClaimsResult{Source: SourceNone}
	}
	return ClaimsResult{Claims: claimsFromMap(mc), Source: SourceIDToken, Raw: mc}
}

// claimsFromMap maps standard OIDC claim names onto Claims. Non-string values are ignored.
func claimsFromMap(mc jwt.MapClaims) Claims {
	sub, _ := mc.GetSubject()
	return Claims{
		Subject:    sub,
		GivenName:  stringClaim(mc, "given_name"),
		FamilyName: stringClaim(mc, "family_name"),
		Name:       stringClaim(mc, "name"),
		Email:      stringClaim(mc, "email"),
	}
}

func stringClaim(mc jwt.MapClaims, key string) string {
	s, _ := mc[key].(string)
	return s
}
