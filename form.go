package dashauth

import (
	"errors"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// LoginForm is the raw input of a login attempt.
type LoginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6,max=100"`
}

// FormError lists rejected login fields with user-facing messages.
type FormError struct {
	Email    string
	Password string
}

func (e *FormError) Error() string {
	if e.Email != "" {
		return e.Email
	}
	return e.Password
}

func (e *FormError) Unwrap() error {
	return ErrInvalidLoginForm
}

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateLogin checks f and returns it with the email normalized. Rejected
// input yields a *FormError matching [ErrInvalidLoginForm].
func ValidateLogin(f LoginForm) (LoginForm, error) {
	f.Email = NormalizeEmail(f.Email)

	err := configValidator.Struct(f)
	if err == nil {
		return f, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return f, err
	}

	fe := &FormError{}
	for _, v := range verrs {
		switch v.Field() {
		case "Email":
			if fe.Email != "" {
				continue
			}
			if v.Tag() == "required" {
				fe.Email = "Email is required"
			} else {
				fe.Email = "Please enter a valid email address"
			}
		case "Password":
			if fe.Password != "" {
				continue
			}
			switch v.Tag() {
			case "required":
				fe.Password = "Password is required"
			case "max":
				fe.Password = "Password is too long"
			default:
				fe.Password = "Password must be at least 6 characters long"
			}
		}
	}
	return f, fe
}

// Strength is a coarse password strength rating.
type Strength struct {
	Level   string `json:"strength"`
	Score   int    `json:"score"`
	Message string `json:"message"`
}

// PasswordStrength scores password one point each for length >= 8,
// lowercase, uppercase, digits and one of @$!%*?&.
func PasswordStrength(password string) Strength {
	if password == "" {
		return Strength{Level: "empty", Message: "Enter a password"}
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune("@$!%*?&", r):
			symbol = true
		}
	}

	score := 0
	for _, ok := range []bool{len(password) >= 8, lower, upper, digit, symbol} {
		if ok {
			score++
		}
	}

	switch {
	case score < 2:
		return Strength{Level: "weak", Score: score, Message: "Very weak password"}
	case score < 3:
		return Strength{Level: "fair", Score: score, Message: "Weak password"}
	case score < 4:
		return Strength{Level: "good", Score: score, Message: "Good password"}
	case score < 5:
		return Strength{Level: "strong", Score: score, Message: "Strong password"}
	}
	return Strength{Level: "very-strong", Score: score, Message: "Very strong password"}
}
