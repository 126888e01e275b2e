// Package media issues ZEGOCLOUD "04" media access tokens.
//
// token.go -- Token issuance and expiry check.
// Tokens are computed on demand and never stored or verified here; the media SDK
// verifies the signature on its side.
package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// tokenVersion prefixes every token.
const tokenVersion = "04"

// DefaultLifetime applies when TokenParams.LifetimeSeconds is zero.
const DefaultLifetime int64 = 3600

// Privilege keys understood by the media SDK.
const (
	PrivilegeLoginRoom     = "1"
	PrivilegePublishStream = "2"
)

// ErrInvalidTokenParameters is matched (errors.Is) by every *InvalidParamsError.
var ErrInvalidTokenParameters = errors.New("invalid token parameters")

// InvalidParamsError names every field that failed validation, in declaration order.
type InvalidParamsError struct {
	Fields []string
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidTokenParameters, strings.Join(e.Fields, ", "))
}

func (e *InvalidParamsError) Is(target error) bool {
	return target == ErrInvalidTokenParameters
}

// TokenParams are the inputs to Issue. LifetimeSeconds 0 means DefaultLifetime.
type TokenParams struct {
	AppID           string
	ServerSecret    string
	RoomID          string
	UserID          string
	LifetimeSeconds int64
}

// Validate checks every field and reports all failures at once.
// Whitespace-only strings count as empty.
func (p TokenParams) Validate() error {
	var bad []string
	if strings.TrimSpace(p.AppID) == "" {
		bad = append(bad, "appId")
	}
	if strings.TrimSpace(p.ServerSecret) == "" {
		bad = append(bad, "serverSecret")
	}
	if strings.TrimSpace(p.RoomID) == "" {
		bad = append(bad, "roomId")
	}
	if strings.TrimSpace(p.UserID) == "" {
		bad = append(bad, "userId")
	}
	if p.LifetimeSeconds < 0 {
		bad = append(bad, "lifetimeSeconds")
	}
	if len(bad) > 0 {
		return &InvalidParamsError{Fields: bad}
	}
	return nil
}

// payload is the JSON body of a token. Field order is part of the format.
type payload struct {
	AppID     any            `json:"app_id"`
	UserID    string         `json:"user_id"`
	RoomID    string         `json:"room_id"`
	Privilege map[string]int `json:"privilege"`
	ExpiredTS int64          `json:"expired_ts"`
	Nonce     int32          `json:"nonce"`
	Payload   string         `json:"payload"`
}

// Issue signs a token valid from now for the requested lifetime.
func Issue(p TokenParams) (string, error) {
	return issueAt(p, time.Now())
}

func issueAt(p TokenParams, now time.Time) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	lifetime := p.LifetimeSeconds
	if lifetime == 0 {
		lifetime = DefaultLifetime
	}

	// Not a secret; only keeps back-to-back payloads distinct.
	nonce := rand.Int32()
	issuedAt := now.Unix()

	mac := hmac.New(sha256.New, []byte(p.ServerSecret))
	mac.Write([]byte(p.AppID + strconv.FormatInt(issuedAt, 10) + strconv.FormatInt(int64(nonce), 10)))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	body, err := json.Marshal(payload{
		AppID:  appIDValue(p.AppID),
		UserID: p.UserID,
		RoomID: p.RoomID,
		// Full set only; observer or partial privileges are not supported.
		Privilege: map[string]int{PrivilegeLoginRoom: 1, PrivilegePublishStream: 1},
		ExpiredTS: issuedAt + lifetime,
		Nonce:     nonce,
	})
	if err != nil {
		return "", fmt.Errorf("encoding token payload: %w", err)
	}

	return tokenVersion + base64.StdEncoding.EncodeToString(body) + "." + signature, nil
}

// appIDValue emits numeric app ids as JSON numbers, anything else as a string.
func appIDValue(appID string) any {
	if n, err := strconv.ParseUint(appID, 10, 32); err == nil {
		return n
	}
	return appID
}

// appIDString reads app_id written either as a JSON string or a JSON number.
func appIDString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("parsing app_id: %w", err)
	}
	return n.String(), nil
}

// Claims is the decoded, unverified content of a token.
type Claims struct {
	AppID     string
	UserID    string
	RoomID    string
	ExpiredTS int64
	Nonce     int32
}

// Decode parses a token's payload without checking the signature.
func Decode(token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, errors.New("token must have exactly two parts")
	}
	enc, ok := strings.CutPrefix(parts[0], tokenVersion)
	if !ok {
		return Claims{}, errors.New("unsupported token version")
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return Claims{}, fmt.Errorf("decoding payload: %w", err)
	}
	var pl struct {
		AppID     json.RawMessage `json:"app_id"`
		UserID    string          `json:"user_id"`
		RoomID    string          `json:"room_id"`
		ExpiredTS *int64          `json:"expired_ts"`
		Nonce     int32           `json:"nonce"`
	}
	if err := json.Unmarshal(raw, &pl); err != nil {
		return Claims{}, fmt.Errorf("parsing payload: %w", err)
	}
	if pl.ExpiredTS == nil {
		return Claims{}, errors.New("payload has no expired_ts")
	}
	appID, err := appIDString(pl.AppID)
	if err != nil {
		return Claims{}, err
	}
	return Claims{
		AppID:     appID,
		UserID:    pl.UserID,
		RoomID:    pl.RoomID,
		ExpiredTS: *pl.ExpiredTS,
		Nonce:     pl.Nonce,
	}, nil
}

// IsExpired reports whether token is past its expired_ts. Anything unparseable is expired.
func IsExpired(token string) bool {
	return isExpiredAt(token, time.Now())
}

func isExpiredAt(token string, now time.Time) bool {
	c, err := Decode(token)
	if err != nil {
		return true
	}
	return now.Unix() >= c.ExpiredTS
}

// Issuer binds process-wide app credentials for per-request issuance.
// Immutable after construction; safe for concurrent use.
type Issuer struct {
	AppID        string
	ServerSecret string
	Lifetime     time.Duration    // zero means DefaultLifetime; rounded up to whole seconds
	Now          func() time.Time // nil means time.Now
}

// Issue signs a token for userID in roomID.
func (i *Issuer) Issue(roomID, userID string) (string, error) {
	now := time.Now
	if i.Now != nil {
		now = i.Now
	}
	return issueAt(TokenParams{
		AppID:           i.AppID,
		ServerSecret:    i.ServerSecret,
		RoomID:          roomID,
		UserID:          userID,
		LifetimeSeconds: lifetimeSeconds(i.Lifetime),
	}, now())
}

// lifetimeSeconds rounds d up to whole seconds so a positive lifetime never becomes
// the zero default. Any negative duration maps to -1 and fails validation.
func lifetimeSeconds(d time.Duration) int64 {
	switch {
	case d < 0:
		return -1
	case d == 0:
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

// IsExpired checks token against the issuer's clock.
func (i *Issuer) IsExpired(token string) bool {
	if i.Now != nil {
		return isExpiredAt(token, i.Now())
	}
	return IsExpired(token)
}
