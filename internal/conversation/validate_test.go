package conversation

import (
	"testing"

	"onboardbot/internal/domain"
)

func testValidator() *Validator {
	cat, err := LoadCatalog("")
	if err != nil {
		panic(err)
	}
	return NewValidator(cat.Validation)
}

func TestName_Valid(t *testing.T) {
	v := testValidator()
	for _, input := range []string{"Ali", "  Ali Reza  ", "سارا", "علی رضایی"} {
		name, err := v.Name(input)
		if err != nil {
			t.Fatalf("Name(%q) unexpected error: %v", input, err)
		}
		if name != input && name != "Ali Reza" && name != "Ali" {
			// trimmed form is what must be stored
			t.Fatalf("Name(%q) not trimmed: %q", input, name)
		}
	}
}

func TestName_Invalid(t *testing.T) {
	v := testValidator()
	for _, input := range []string{"", "   ", "A", "Ali123", "Ali!", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaab"} {
		if _, err := v.Name(input); !domain.IsValidation(err) {
			t.Fatalf("Name(%q) expected ValidationError, got %v", input, err)
		}
	}
}

func TestPhone_StripsFormatting(t *testing.T) {
	v := testValidator()
	phone, err := v.Phone(" +98 (912) 123-4567 ")
	if err != nil {
		t.Fatal(err)
	}
	if phone != "+989121234567" {
		t.Fatalf("got %q", phone)
	}
}

func TestPhone_PersianDigits(t *testing.T) {
	v := testValidator()
	phone, err := v.Phone("۰۹۱۲۱۲۳۴۵۶۷")
	if err != nil {
		t.Fatal(err)
	}
	if phone != "09121234567" {
		t.Fatalf("got %q", phone)
	}
}

func TestPhone_Invalid(t *testing.T) {
	v := testValidator()
	for _, input := range []string{"", "12345", "123456789", "1234567890123456", "no digits"} {
		if _, err := v.Phone(input); !domain.IsValidation(err) {
			t.Fatalf("Phone(%q) expected ValidationError, got %v", input, err)
		}
	}
}

func TestAccountID_NormalizesPersianDigits(t *testing.T) {
	v := testValidator()
	id, err := v.AccountID(" AB۱۲۳۴۵ ")
	if err != nil {
		t.Fatal(err)
	}
	if id != "AB12345" {
		t.Fatalf("got %q", id)
	}
}

func TestAccountID_Bounds(t *testing.T) {
	v := testValidator()
	if _, err := v.AccountID("abc12"); !domain.IsValidation(err) {
		t.Fatal("5 chars must fail")
	}
	if _, err := v.AccountID("abc123"); err != nil {
		t.Fatalf("6 chars must pass: %v", err)
	}
	if _, err := v.AccountID("a1234567890123456789"); err != nil {
		t.Fatalf("20 chars must pass: %v", err)
	}
	if _, err := v.AccountID("a12345678901234567890"); !domain.IsValidation(err) {
		t.Fatal("21 chars must fail")
	}
	if _, err := v.AccountID("abc 123"); !domain.IsValidation(err) {
		t.Fatal("inner whitespace must fail")
	}
}

func TestNormalizeDigits(t *testing.T) {
	if got := NormalizeDigits("۱۲۳٤٥"); got != "12345" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeDigits("abc"); got != "abc" {
		t.Fatalf("ascii input must pass through, got %q", got)
	}
}
