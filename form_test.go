package dashauth

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateLogin(t *testing.T) {
	cases := []struct {
		name     string
		form     LoginForm
		email    string
		password string
	}{
		{"valid", LoginForm{Email: " Admin@Example.COM ", Password: "secret1"}, "", ""},
		{"missing email", LoginForm{Password: "secret1"}, "Email is required", ""},
		{"bad email", LoginForm{Email: "admin", Password: "secret1"}, "Please enter a valid email address", ""},
		{"missing password", LoginForm{Email: "a@b.co"}, "", "Password is required"},
		{"short password", LoginForm{Email: "a@b.co", Password: "12345"}, "", "Password must be at least 6 characters long"},
		{"long password", LoginForm{Email: "a@b.co", Password: strings.Repeat("x", 101)}, "", "Password is too long"},
	}

	for _, tc := range cases {
		got, err := ValidateLogin(tc.form)
		if tc.email == "" && tc.password == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			if got.Email != "admin@example.com" {
				t.Fatalf("%s: email not normalized: %q", tc.name, got.Email)
			}
			continue
		}

		var fe *FormError
		if !errors.As(err, &fe) || !errors.Is(err, ErrInvalidLoginForm) {
			t.Fatalf("%s: expected FormError, got %v", tc.name, err)
		}
		if fe.Email != tc.email || fe.Password != tc.password {
			t.Fatalf("%s: unexpected field errors %+v", tc.name, fe)
		}
	}
}

func TestFormErrorReportsEmailFirst(t *testing.T) {
	_, err := ValidateLogin(LoginForm{})
	if err == nil || err.Error() != "Email is required" {
		t.Fatalf("expected email message first, got %v", err)
	}
}

func TestPasswordStrength(t *testing.T) {
	cases := map[string]string{
		"":             "empty",
		"abc":          "weak",
		"abcdefgh":     "fair",
		"abcdefg1":     "good",
		"Abcdefg1":     "strong",
		"Abcdefg1!":    "very-strong",
		"ABC":          "weak",
		"abc1@":        "good",
		"Passw0rd?Xyz": "very-strong",
	}
	for pw, want := range cases {
		if got := PasswordStrength(pw); got.Level != want {
			t.Fatalf("%q: expected %s, got %+v", pw, want, got)
		}
	}
}
