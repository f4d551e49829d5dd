package validation

import (
	"strings"
	"testing"

	"github.com/iliyamo/guardian-auth/internal/apperr"
)

func TestValidEmail(t *testing.T) {
	good := []string{"a@x.com", "first.last+tag@sub.example.org", "A1@X-Y.io"}
	bad := []string{"", "a@x", ".a@x.com", "a@@x.com", "a x@x.com", "a@x.c0m", strings.Repeat("a", 250) + "@x.com"}
	for _, s := range good {
		if !ValidEmail(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range bad {
		if ValidEmail(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestStrongPassword(t *testing.T) {
	cases := map[string]bool{
		"Str0ng!Pass":                         true,
		"Aa1@aaaa":                            true,
		"Aa1@aaa":                             false, // too short
		"str0ng!pass":                         false, // no upper
		"STR0NG!PASS":                         false, // no lower
		"Strong!Pass":                         false, // no digit
		"Str0ngPass1":                         false, // no special
		"Str0ng!Pass#":                        false, // '#' outside the alphabet
		"Str0ng!P" + strings.Repeat("a", 121): false,
	}
	for pw, want := range cases {
		if got := StrongPassword(pw); got != want {
			t.Errorf("StrongPassword(%q) = %v, want %v", pw, got, want)
		}
	}
}

func TestValidName(t *testing.T) {
	for _, s := range []string{"A", "Ann", "O'Neil", "Jean-Luc", "José", "Mary Ann"} {
		if !ValidName(s) {
			t.Errorf("expected %q valid", s)
		}
	}
	for _, s := range []string{"", "R2D2", "<b>", strings.Repeat("a", 51)} {
		if ValidName(s) {
			t.Errorf("expected %q invalid", s)
		}
	}
}

func TestSanitize(t *testing.T) {
	if got := Sanitize("  <script>alert(1)</script>Ann<  "); got != "alert(1)Ann" {
		t.Fatalf("unexpected sanitize result %q", got)
	}
}

func TestResemblesIdentity(t *testing.T) {
	if !ResemblesIdentity("Annabel!1", "zed@x.com", "Anna", "Bee") {
		t.Fatalf("expected first name match")
	}
	if !ResemblesIdentity("xxZED1!a", "zed@x.com", "Al", "Bo") {
		t.Fatalf("expected email local part match")
	}
	if ResemblesIdentity("Str0ng!Pass", "a@x.com", "Al", "Bo") {
		t.Fatalf("short identity parts must be ignored")
	}
}

type signup struct {
	Email    string `json:"email" validate:"required,email_addr"`
	Password string `json:"password" validate:"required,password,not_common"`
	Confirm  string `json:"confirm_password" validate:"required,eqfield=Password"`
	First    string `json:"first_name" validate:"required,person_name"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	v := New()
	err := v.Struct(signup{Email: "nope", Password: "Str0ng!Pass", Confirm: "other", First: "Ann"})
	e := apperr.As(err)
	if e == nil || e.Code != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	got := map[string]string{}
	for _, f := range e.Fields {
		got[f.Field] = f.Code
	}
	if got["email"] != "email_addr" || got["confirm_password"] != "eqfield" {
		t.Fatalf("unexpected fields %+v", e.Fields)
	}
	if _, ok := got["password"]; ok {
		t.Fatalf("password should have passed")
	}

	if err := v.Struct(signup{Email: "a@x.com", Password: "Str0ng!Pass", Confirm: "Str0ng!Pass", First: "Ann"}); err != nil {
		t.Fatalf("expected valid struct, got %v", err)
	}
}

func TestCommonPasswordRejected(t *testing.T) {
	if !CommonPassword("Password123") {
		t.Fatalf("expected case-insensitive common password match")
	}
}
