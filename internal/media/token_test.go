package media

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"
)

func validParams() TokenParams {
	return TokenParams{
		AppID:        "1234567890",
		ServerSecret: "0123456789abcdef0123456789abcdef",
		RoomID:       "room-42",
		UserID:       "user-7",
	}
}

// decodeRaw returns the JSON payload map of a token.
func decodeRaw(t *testing.T, token string) map[string]any {
	t.Helper()
	body, _, ok := strings.Cut(strings.TrimPrefix(token, "04"), ".")
	if !ok {
		t.Fatalf("token has no signature separator: %q", token)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		t.Fatalf("payload not std base64: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	return m
}

// --- Issue ---

func TestIssue(t *testing.T) {
	t.Run("format and payload", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		tok, err := issueAt(validParams(), now)
		if err != nil {
			t.Fatalf("issueAt: %v", err)
		}
		if !strings.HasPrefix(tok, "04") {
			t.Errorf("expected 04 prefix, got %q", tok[:2])
		}
		if n := strings.Count(tok, "."); n != 1 {
			t.Errorf("expected exactly one '.', got %d", n)
		}

		m := decodeRaw(t, tok)
		if m["app_id"] != float64(1234567890) {
			t.Errorf("app_id: expected numeric 1234567890, got %#v", m["app_id"])
		}
		if m["room_id"] != "room-42" || m["user_id"] != "user-7" {
			t.Errorf("room/user mismatch: %v", m)
		}
		if m["expired_ts"] != float64(now.Unix()+3600) {
			t.Errorf("expired_ts: expected %d, got %v", now.Unix()+3600, m["expired_ts"])
		}
		if m["payload"] != "" {
			t.Errorf("payload: expected empty string, got %#v", m["payload"])
		}
		priv, ok := m["privilege"].(map[string]any)
		if !ok || priv["1"] != float64(1) || priv["2"] != float64(1) || len(priv) != 2 {
			t.Errorf("privilege: expected {1:1,2:1}, got %#v", m["privilege"])
		}
	})

	t.Run("signature is HMAC of appId+issuedAt+nonce", func(t *testing.T) {
		p := validParams()
		now := time.Unix(1_700_000_123, 0)
		tok, err := issueAt(p, now)
		if err != nil {
			t.Fatalf("issueAt: %v", err)
		}
		m := decodeRaw(t, tok)
		nonce := int64(m["nonce"].(float64))

		mac := hmac.New(sha256.New, []byte(p.ServerSecret))
		mac.Write([]byte(p.AppID + strconv.FormatInt(now.Unix(), 10) + strconv.FormatInt(nonce, 10)))
		want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

		_, sig, _ := strings.Cut(tok, ".")
		if sig != want {
			t.Errorf("signature mismatch:\n got  %s\n want %s", sig, want)
		}
	})

	t.Run("custom lifetime", func(t *testing.T) {
		p := validParams()
		p.LifetimeSeconds = 60
		now := time.Unix(1_700_000_000, 0)
		tok, err := issueAt(p, now)
		if err != nil {
			t.Fatalf("issueAt: %v", err)
		}
		c, err := Decode(tok)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if c.ExpiredTS != now.Unix()+60 {
			t.Errorf("ExpiredTS: expected %d, got %d", now.Unix()+60, c.ExpiredTS)
		}
	})

	t.Run("non-numeric app id stays a string", func(t *testing.T) {
		p := validParams()
		p.AppID = "app-abc"
		tok, err := Issue(p)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if got := decodeRaw(t, tok)["app_id"]; got != "app-abc" {
			t.Errorf("app_id: expected string, got %#v", got)
		}
	})

	t.Run("identical inputs give distinct tokens with same room and user", func(t *testing.T) {
		seen := map[string]bool{}
		for range 5 {
			tok, err := Issue(validParams())
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}
			seen[tok] = true
			c, err := Decode(tok)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if c.RoomID != "room-42" || c.UserID != "user-7" {
				t.Errorf("decoded room/user mismatch: %+v", c)
			}
		}
		if len(seen) < 2 {
			t.Error("expected nonce to vary tokens across calls")
		}
	})
}

// --- Validation ---

func TestIssueValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TokenParams)
		want   []string
	}{
		{"empty app id", func(p *TokenParams) { p.AppID = "" }, []string{"appId"}},
		{"whitespace room", func(p *TokenParams) { p.RoomID = "   " }, []string{"roomId"}},
		{"negative lifetime", func(p *TokenParams) { p.LifetimeSeconds = -1 }, []string{"lifetimeSeconds"}},
		{"all empty", func(p *TokenParams) { *p = TokenParams{} }, []string{"appId", "serverSecret", "roomId", "userId"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			tok, err := Issue(p)
			if err == nil {
				t.Fatalf("expected error, got token %q", tok)
			}
			if !errors.Is(err, ErrInvalidTokenParameters) {
				t.Errorf("expected ErrInvalidTokenParameters, got %v", err)
			}
			var ipe *InvalidParamsError
			if !errors.As(err, &ipe) {
				t.Fatalf("expected *InvalidParamsError, got %T", err)
			}
			if !slices.Equal(ipe.Fields, tc.want) {
				t.Errorf("fields: expected %v, got %v", tc.want, ipe.Fields)
			}
			if tok != "" {
				t.Error("expected empty token on error")
			}
		})
	}
}

// --- IsExpired ---

func TestIsExpired(t *testing.T) {
	t.Run("fresh token is not expired", func(t *testing.T) {
		tok, err := Issue(validParams())
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if IsExpired(tok) {
			t.Error("fresh token reported expired")
		}
	})

	t.Run("boundary is expired", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		p := validParams()
		p.LifetimeSeconds = 10
		tok, _ := issueAt(p, now)
		if isExpiredAt(tok, now.Add(9*time.Second)) {
			t.Error("expected valid one second before expiry")
		}
		if !isExpiredAt(tok, now.Add(10*time.Second)) {
			t.Error("expected expired at expired_ts")
		}
	})

	t.Run("rejected negative lifetime yields expired", func(t *testing.T) {
		p := validParams()
		p.LifetimeSeconds = -1
		tok, _ := Issue(p)
		if !IsExpired(tok) {
			t.Error("expected expired for token from rejected params")
		}
	})

	garbage := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "garbage"},
		{"three parts", "04abc.def.ghi"},
		{"wrong version", "03" + base64.StdEncoding.EncodeToString([]byte(`{"expired_ts":9999999999}`)) + ".sig"},
		{"bad base64", "04!!!.sig"},
		{"bad json", "04" + base64.StdEncoding.EncodeToString([]byte("not json")) + ".sig"},
		{"no expiry", "04" + base64.StdEncoding.EncodeToString([]byte(`{"room_id":"r"}`)) + ".sig"},
	}
	for _, tc := range garbage {
		t.Run(tc.name, func(t *testing.T) {
			if !IsExpired(tc.token) {
				t.Errorf("IsExpired(%q) = false, want true", tc.token)
			}
		})
	}
}

// --- Issuer ---

func TestIssuer(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	iss := &Issuer{
		AppID:        "42",
		ServerSecret: "secret",
		Lifetime:     30 * time.Minute,
		Now:          func() time.Time { return now },
	}

	tok, err := iss.Issue("room", "user")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	c, err := Decode(tok)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if c.AppID != "42" {
		t.Errorf("AppID: expected 42, got %q", c.AppID)
	}
	if c.ExpiredTS != now.Unix()+1800 {
		t.Errorf("ExpiredTS: expected %d, got %d", now.Unix()+1800, c.ExpiredTS)
	}
	if iss.IsExpired(tok) {
		t.Error("expected token valid on issuer clock")
	}
	now = now.Add(time.Hour)
	if !iss.IsExpired(tok) {
		t.Error("expected token expired after an hour")
	}

	if _, err := iss.Issue("", "user"); !errors.Is(err, ErrInvalidTokenParameters) {
		t.Errorf("expected ErrInvalidTokenParameters for empty room, got %v", err)
	}
}

func TestIssuerLifetimeRounding(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	for _, tc := range []struct {
		name     string
		lifetime time.Duration
		want     int64
	}{
		{"zero uses default", 0, DefaultLifetime},
		{"sub-second rounds up to one second", 500 * time.Millisecond, 1},
		{"fractional seconds round up", 1500 * time.Millisecond, 2},
		{"whole seconds unchanged", 90 * time.Second, 90},
	} {
		t.Run(tc.name, func(t *testing.T) {
			iss := &Issuer{AppID: "42", ServerSecret: "secret", Lifetime: tc.lifetime, Now: func() time.Time { return now }}
			tok, err := iss.Issue("room", "user")
			if err != nil {
				t.Fatalf("Issue: %v", err)
			}
			c, err := Decode(tok)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := c.ExpiredTS - now.Unix(); got != tc.want {
				t.Errorf("lifetime: expected %ds, got %ds", tc.want, got)
			}
		})
	}

	t.Run("negative lifetime is rejected", func(t *testing.T) {
		iss := &Issuer{AppID: "42", ServerSecret: "secret", Lifetime: -time.Millisecond}
		if _, err := iss.Issue("room", "user"); !errors.Is(err, ErrInvalidTokenParameters) {
			t.Errorf("expected ErrInvalidTokenParameters, got %v", err)
		}
	})
}

func TestDecodeAppID(t *testing.T) {
	encode := func(body string) string {
		return "04" + base64.StdEncoding.EncodeToString([]byte(body)) + ".sig"
	}
	for _, tc := range []struct {
		name, body, want string
	}{
		{"numeric", `{"app_id":123456789,"expired_ts":1}`, "123456789"},
		{"plain string", `{"app_id":"app-abc","expired_ts":1}`, "app-abc"},
		{"escaped string", `{"app_id":"a\"bc","expired_ts":1}`, `a"bc`},
		{"absent", `{"expired_ts":1}`, ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Decode(encode(tc.body))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if c.AppID != tc.want {
				t.Errorf("AppID: expected %q, got %q", tc.want, c.AppID)
			}
		})
	}

	t.Run("object app id is rejected", func(t *testing.T) {
		if _, err := Decode(encode(`{"app_id":{},"expired_ts":1}`)); err == nil {
			t.Error("expected error for object app_id")
		}
	})
}
