package conversation

import (
	"regexp"
	"strings"

	"onboardbot/internal/domain"
)

var (
	// Letters only, Latin or Persian, 2 to 30 characters.
	nameRe = regexp.MustCompile(`^[آ-یa-zA-Z\s]{2,30}$`)
	// Optional leading +, then 10 to 15 digits.
	phoneRe = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	// Exchange UIDs are 6 to 20 alphanumeric characters.
	accountIDRe = regexp.MustCompile(`^[a-zA-Z0-9]{6,20}$`)

	nonPhoneRe = regexp.MustCompile(`[^0-9+]`)
)

// digitFold maps Persian and Arabic-Indic digit glyphs to ASCII.
var digitFold = strings.NewReplacer(
	"۰", "0", "۱", "1", "۲", "2", "۳", "3", "۴", "4",
	"۵", "5", "۶", "6", "۷", "7", "۸", "8", "۹", "9",
	"٠", "0", "١", "1", "٢", "2", "٣", "3", "٤", "4",
	"٥", "5", "٦", "6", "٧", "7", "٨", "8", "٩", "9",
)

// NormalizeDigits converts localized digit glyphs to ASCII digits.
func NormalizeDigits(s string) string {
	return digitFold.Replace(s)
}

// Validator checks and normalizes user input. Failures are returned as
// *domain.ValidationError with a localized reason; the engine re-prompts
// without changing state.
type Validator struct {
	texts ValidationTexts
}

func NewValidator(texts ValidationTexts) *Validator {
	return &Validator{texts: texts}
}

// Name trims the input and checks the 2-30 letters shape.
func (v *Validator) Name(input string) (string, error) {
	clean := strings.TrimSpace(input)
	if clean == "" {
		return "", &domain.ValidationError{Reason: v.texts.NameEmpty}
	}
	if !nameRe.MatchString(clean) {
		return "", &domain.ValidationError{Reason: v.texts.NameShape}
	}
	return clean, nil
}

// Phone strips everything but digits and a leading +, then checks length.
func (v *Validator) Phone(input string) (string, error) {
	clean := strings.TrimSpace(NormalizeDigits(input))
	if clean == "" {
		return "", &domain.ValidationError{Reason: v.texts.PhoneEmpty}
	}
	clean = nonPhoneRe.ReplaceAllString(clean, "")
	// A + is only meaningful as a prefix.
	if i := strings.LastIndex(clean, "+"); i > 0 {
		clean = strings.ReplaceAll(clean, "+", "")
	}
	if !phoneRe.MatchString(clean) {
		return "", &domain.ValidationError{Reason: v.texts.PhoneShape}
	}
	return clean, nil
}

// AccountID normalizes localized digits, trims, and checks the shape.
func (v *Validator) AccountID(input string) (string, error) {
	clean := strings.TrimSpace(NormalizeDigits(input))
	if clean == "" {
		return "", &domain.ValidationError{Reason: v.texts.AccountIDEmpty}
	}
	if !accountIDRe.MatchString(clean) {
		return "", &domain.ValidationError{Reason: v.texts.AccountIDShape}
	}
	return clean, nil
}
