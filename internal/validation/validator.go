// Package validation wraps go-playground/validator with the account rules:
// email format, password strength, person names. It also provides the input
// sanitizer and the password/identity similarity check.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/iliyamo/guardian-auth/internal/apperr"
)

const (
	EmailMaxLength    = 255
	PasswordMinLength = 8
	PasswordMaxLength = 128
	NameMinLength     = 1
	NameMaxLength     = 50
)

var (
	emailRegex = regexp.MustCompile(`(?i)^[a-z0-9][\w+\-.]*@[a-z\d-]+(\.[a-z\d-]+)*\.[a-z]+$`)
	tagRegex   = regexp.MustCompile(`<[^>]*>`)

	passwordSpecials = "@$!%*?&"

	commonPasswords = map[string]bool{
		"password": true, "12345678": true, "password123": true, "admin123": true,
		"qwerty123": true, "letmein123": true, "welcome123": true, "password1": true,
		"123456789": true, "qwertyuiop": true, "adminadmin": true, "useruser": true,
	}
)

// Validator validates tagged structs and reports field errors keyed by their
// json names.
type Validator struct {
	validate *validator.Validate
}

// New registers the custom tags: email_addr, password, not_common and
// person_name.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("email_addr", func(fl validator.FieldLevel) bool { return ValidEmail(fl.Field().String()) })
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool { return StrongPassword(fl.Field().String()) })
	_ = v.RegisterValidation("not_common", func(fl validator.FieldLevel) bool { return !CommonPassword(fl.Field().String()) })
	_ = v.RegisterValidation("person_name", func(fl validator.FieldLevel) bool { return ValidName(fl.Field().String()) })
	return &Validator{validate: v}
}

// Struct validates s and returns a VALIDATION_FAILED error listing every
// failing field, or nil.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperr.Internal(err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{
			Field:   fe.Field(),
			Message: message(fe),
			Code:    fe.Tag(),
		})
	}
	return apperr.Validation(fields...)
}

func message(fe validator.FieldError) string {
	field := humanize(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email_addr":
		return "Email is invalid"
	case "password":
		return fmt.Sprintf("%s must be %d-%d characters and include upper and lower case letters, a digit and one of %s",
			field, PasswordMinLength, PasswordMaxLength, passwordSpecials)
	case "not_common":
		return fmt.Sprintf("%s is too common", field)
	case "person_name":
		return fmt.Sprintf("%s must be %d-%d letters, spaces, apostrophes or hyphens", field, NameMinLength, NameMaxLength)
	case "eqfield":
		return fmt.Sprintf("%s doesn't match", field)
	case "nefield":
		return fmt.Sprintf("%s must differ from the current password", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}

func humanize(field string) string {
	s := strings.ReplaceAll(field, "_", " ")
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s is a well-formed address within the length
// limit.
func ValidEmail(s string) bool {
	return len(s) <= EmailMaxLength && emailRegex.MatchString(s)
}

// StrongPassword checks length, the allowed alphabet and the required
// character classes.
func StrongPassword(s string) bool {
	if len(s) < PasswordMinLength || len(s) > PasswordMaxLength {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return false
		}
	}
	return lower && upper && digit && special
}

// CommonPassword reports whether s is on the weak password list.
func CommonPassword(s string) bool {
	return commonPasswords[strings.ToLower(s)]
}

// ValidName accepts 1-50 letters (including Latin-1 accented ones), spaces,
// apostrophes and hyphens.
func ValidName(s string) bool {
	n := utf8.RuneCountInString(s)
	if n < NameMinLength || n > NameMaxLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= 0xC0 && r <= 0xFF:
		case r == ' ', r == '\'', r == '-':
		default:
			return false
		}
	}
	return true
}

// Sanitize strips HTML tags and stray angle brackets and trims whitespace.
func Sanitize(s string) string {
	s = tagRegex.ReplaceAllString(s, "")
	s = strings.NewReplacer("<", "", ">", "").Replace(s)
	return strings.TrimSpace(s)
}

// ResemblesIdentity reports whether password contains the first name, last
// name or the email local part. Parts shorter than three characters are
// ignored.
func ResemblesIdentity(password, email, firstName, lastName string) bool {
	pw := strings.ToLower(password)
	local := email
	if i := strings.IndexByte(email, '@'); i >= 0 {
		local = email[:i]
	}
	for _, part := range []string{firstName, lastName, local} {
		part = strings.ToLower(strings.TrimSpace(part))
		if utf8.RuneCountInString(part) >= 3 && strings.Contains(pw, part) {
			return true
		}
	}
	return false
}
