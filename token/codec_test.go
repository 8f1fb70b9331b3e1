package token

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

var testNow = time.Unix(1_700_000_000, 0)

func signTestToken(t *testing.T, claims gjwt.Claims) string {
	t.Helper()
	tok, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-test-secret-test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func TestDecodeRoundTripsExpiryAndIdentity(t *testing.T) {
	exp := testNow.Add(15 * time.Minute)
	iat := testNow.Add(-time.Minute)
	raw := signTestToken(t, Claims{
		UserID: "u-1",
		Email:  "admin@example.com",
		Role:   RoleList{"admin"},
		RegisteredClaims: gjwt.RegisteredClaims{
			ExpiresAt: gjwt.NewNumericDate(exp),
			IssuedAt:  gjwt.NewNumericDate(iat),
		},
	})

	info, ok := DecodeAt(raw, testNow)
	if !ok {
		t.Fatal("expected well-formed token to decode")
	}
	if !info.ExpiresAt.Equal(exp) {
		t.Fatalf("expected exp %v, got %v", exp, info.ExpiresAt)
	}
	if !info.IssuedAt.Equal(iat) {
		t.Fatalf("expected iat %v, got %v", iat, info.IssuedAt)
	}
	if info.UserID != "u-1" || info.Email != "admin@example.com" || info.Role != "admin" {
		t.Fatalf("unexpected identity claims: %+v", info)
	}
	if info.Expired {
		t.Fatal("token with future exp must not be expired")
	}
}

func TestDecodeExpiredAtExactExp(t *testing.T) {
	raw := signTestToken(t, gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(testNow)})

	info, ok := DecodeAt(raw, testNow)
	if !ok {
		t.Fatal("expected token to decode")
	}
	if !info.Expired {
		t.Fatal("now == exp must count as expired")
	}

	info, _ = DecodeAt(raw, testNow.Add(-time.Second))
	if info.Expired {
		t.Fatal("one second before exp must not be expired")
	}
}

func TestDecodeMissingExpIsExpired(t *testing.T) {
	raw := signTestToken(t, gjwt.RegisteredClaims{Subject: "u-2"})

	info, ok := DecodeAt(raw, testNow)
	if !ok {
		t.Fatal("expected token to decode")
	}
	if !info.Expired {
		t.Fatal("token without exp must be treated as expired")
	}
	if info.UserID != "u-2" {
		t.Fatalf("expected sub fallback for user id, got %q", info.UserID)
	}
	if info.Remaining(testNow) != 0 {
		t.Fatalf("expected zero remaining lifetime, got %v", info.Remaining(testNow))
	}
}

func TestDecodeAcceptsRoleArray(t *testing.T) {
	raw := signTestToken(t, Claims{
		Role:             RoleList{"editor", "admin"},
		RegisteredClaims: gjwt.RegisteredClaims{ExpiresAt: gjwt.NewNumericDate(testNow.Add(time.Hour))},
	})

	info, ok := DecodeAt(raw, testNow)
	if !ok {
		t.Fatal("expected token to decode")
	}
	if len(info.Roles) != 2 || info.Roles[1] != "admin" || info.Role != "editor" {
		t.Fatalf("unexpected roles: %+v", info.Roles)
	}
}

func TestDecodeIgnoresUnknownAlgorithm(t *testing.T) {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"XS999","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"exp":1700000600,"email":"a@b.c"}`))

	info, ok := DecodeAt(header+"."+payload+".sig", testNow)
	if !ok {
		t.Fatal("unknown alg must not prevent expiry decoding")
	}
	if info.ExpiresAt.Unix() != 1700000600 {
		t.Fatalf("unexpected exp: %v", info.ExpiresAt)
	}
}

func TestDecodeAcceptsPaddedURLPayload(t *testing.T) {
	header := base64.URLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	payload := base64.URLEncoding.EncodeToString([]byte(`{"exp":1700000601}`))

	info, ok := DecodeAt(header+"."+payload+".sig", testNow)
	if !ok {
		t.Fatal("padded segments must decode")
	}
	if info.ExpiresAt.Unix() != 1700000601 {
		t.Fatalf("unexpected exp: %v", info.ExpiresAt)
	}
}

func TestDecodeAcceptsStandardBase64Payload(t *testing.T) {
	claims := []byte(`{"exp":1700000602,"note":"~~~???"}`)
	for name, enc := range map[string]*base64.Encoding{
		"padded":   base64.StdEncoding,
		"unpadded": base64.RawStdEncoding,
	} {
		payload := enc.EncodeToString(claims)
		if !strings.ContainsAny(payload, "+/") {
			t.Fatalf("%s: payload %q does not exercise the standard alphabet", name, payload)
		}
		info, ok := DecodeAt("h."+payload+".s", testNow)
		if !ok {
			t.Fatalf("%s: standard base64 payload must decode", name)
		}
		if info.ExpiresAt.Unix() != 1700000602 {
			t.Fatalf("%s: unexpected exp: %v", name, info.ExpiresAt)
		}
	}
}

func TestDecodeReadsOnlyThePayload(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"exp":1700000603,"sub":42,"role":7}`))

	info, ok := DecodeAt("xx."+payload+".sig", testNow)
	if !ok {
		t.Fatal("a non-JWT header must not prevent decoding")
	}
	if info.ExpiresAt.Unix() != 1700000603 || info.Expired {
		t.Fatalf("unexpected expiry: %+v", info)
	}
	if info.UserID != "42" {
		t.Fatalf("numeric sub must become the user id, got %q", info.UserID)
	}
	if len(info.Roles) != 0 {
		t.Fatalf("a non-string role must be ignored, got %v", info.Roles)
	}
}

func TestDecodeNumericStringExp(t *testing.T) {
	payload := base64.RawURLEncoding.EncodeToString([]byte(`{"exp":"1700000604","userId":"u-7"}`))

	info, ok := DecodeAt("h."+payload+".s", testNow)
	if !ok || info.ExpiresAt.Unix() != 1700000604 || info.UserID != "u-7" {
		t.Fatalf("unexpected result: %+v ok=%v", info, ok)
	}

	payload = base64.RawURLEncoding.EncodeToString([]byte(`{"exp":"soon"}`))
	info, ok = DecodeAt("h."+payload+".s", testNow)
	if !ok || !info.Expired || !info.ExpiresAt.IsZero() {
		t.Fatalf("an unreadable exp must read as missing: %+v", info)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	validHeader := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256"}`))
	cases := map[string]string{
		"empty":         "",
		"one segment":   "abc",
		"two segments":  "abc.def",
		"four segments": "a.b.c.d",
		"bad base64":    validHeader + ".!!!.sig",
		"bad json":      validHeader + "." + base64.RawURLEncoding.EncodeToString([]byte("{not json")) + ".sig",
		"not an object": validHeader + "." + base64.RawURLEncoding.EncodeToString([]byte(`[1,2]`)) + ".sig",
		"empty payload": validHeader + "..sig",
	}

	for name, raw := range cases {
		if info, ok := DecodeAt(raw, testNow); ok || info != nil {
			t.Fatalf("%s: expected absent result, got %+v", name, info)
		}
	}
}

func TestExpiresWithinBoundary(t *testing.T) {
	info := &Info{ExpiresAt: testNow.Add(5 * time.Minute)}
	if !info.ExpiresWithin(5*time.Minute, testNow) {
		t.Fatal("exactly 5 minutes remaining must be within threshold")
	}

	info = &Info{ExpiresAt: testNow.Add(5*time.Minute + time.Second)}
	if info.ExpiresWithin(5*time.Minute, testNow) {
		t.Fatal("5 minutes and 1 second remaining must be outside threshold")
	}
}
