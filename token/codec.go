package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Info is the expiry metadata extracted from a bearer credential. It is
// derived without signature verification and must never be used as proof
// of identity.
type Info struct {
	UserID    string
	Email     string
	Role      string
	Roles     []string
	ExpiresAt time.Time
	IssuedAt  time.Time
	Expired   bool
}

// Remaining returns how long the credential stays valid after now. A
// credential without an exp claim has no remaining lifetime.
func (i *Info) Remaining(now time.Time) time.Duration {
	if i == nil || i.ExpiresAt.IsZero() {
		return 0
	}
	return i.ExpiresAt.Sub(now)
}

// ExpiresWithin reports whether the remaining lifetime at now is at most d.
func (i *Info) ExpiresWithin(d time.Duration, now time.Time) bool {
	return i.Remaining(now) <= d
}

// Claims is the payload layout issued by the auth backend. The registered
// exp/iat/sub claims are handled by jwt.RegisteredClaims. Decoding does not
// require this shape; see [DecodeAt].
type Claims struct {
	UserID string   `json:"userId,omitempty"`
	Email  string   `json:"email,omitempty"`
	Role   RoleList `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// RoleList is the role claim. It decodes from either a single role string
// or an array of roles, and encodes a single role as a plain string.
type RoleList []string

func (r *RoleList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*r = nil
		} else {
			*r = RoleList{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*r = RoleList(many)
	return nil
}

func (r RoleList) MarshalJSON() ([]byte, error) {
	if len(r) == 1 {
		return json.Marshal(r[0])
	}
	return json.Marshal([]string(r))
}

var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// maxNumericDate bounds exp and iat to dates time.Unix can represent.
const maxNumericDate = 1e15

// Decode extracts expiry metadata from a compact three-segment token using
// the current time. It returns (nil, false) for any malformed input.
func Decode(raw string) (*Info, bool) {
	return DecodeAt(raw, time.Now())
}

// DecodeAt is Decode with an explicit clock reading.
//
// Only the middle segment is read. The header and signature may hold
// anything, and claims of an unexpected type are ignored rather than
// rejecting the whole token.
func DecodeAt(raw string, now time.Time) (*Info, bool) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 || parts[1] == "" {
		return nil, false
	}
	seg, err := decodeSegment(parts[1])
	if err != nil {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(seg))
	dec.UseNumber()
	var claims map[string]any
	if err := dec.Decode(&claims); err != nil || claims == nil {
		return nil, false
	}
	return infoFromClaims(claims, now), true
}

// decodeSegment accepts base64url with or without padding, then falls back
// to standard base64.
func decodeSegment(seg string) ([]byte, error) {
	if b, err := parser.DecodeSegment(seg); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(seg, "="))
}

func infoFromClaims(c map[string]any, now time.Time) *Info {
	info := &Info{
		UserID: claimString(c["userId"]),
		Email:  claimString(c["email"]),
		Roles:  claimRoles(c["role"]),
	}
	if info.UserID == "" {
		info.UserID = claimString(c["sub"])
	}
	if len(info.Roles) > 0 {
		info.Role = info.Roles[0]
	}
	if iat, ok := numericDate(c["iat"]); ok {
		info.IssuedAt = iat
	}
	if exp, ok := numericDate(c["exp"]); ok {
		info.ExpiresAt = exp
		info.Expired = !now.Before(exp)
	} else {
		info.Expired = true
	}
	return info
}

func claimString(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

func claimRoles(v any) []string {
	switch v := v.(type) {
	case string:
		if v != "" {
			return []string{v}
		}
	case []any:
		var roles []string
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return nil
}

// numericDate reads a seconds-since-epoch claim. Numeric strings are
// accepted as well.
func numericDate(v any) (time.Time, bool) {
	var f float64
	switch v := v.(type) {
	case json.Number:
		n, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return time.Time{}, false
		}
		f = n
	default:
		return time.Time{}, false
	}
	if math.IsNaN(f) || math.Abs(f) > maxNumericDate {
		return time.Time{}, false
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}
