package generator

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// MinLength and StrongLength are the length thresholds used by Score.
	MinLength    = 12
	StrongLength = 20

	// MaxScore is the highest score Score returns.
	MaxScore = 4

	// AcceptableScore is the lowest score that does not trigger a warning.
	AcceptableScore = 3
)

// Strength is the advisory result of scoring a value.
type Strength struct {
	Score int      `json:"score"`
	Hints []string `json:"hints,omitempty"`
}

// Weak reports whether the score is below AcceptableScore.
func (s Strength) Weak() bool {
	return s.Score < AcceptableScore
}

// Score evaluates value against length and character-class thresholds.
//
// One point each for reaching MinLength, reaching StrongLength, using at least
// three character classes, and using all four. Hints are ordered: length,
// lowercase, uppercase, digits, symbols. The score is advisory only and never
// gates a generated value.
func Score(value string) Strength {
	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range value {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			hasSymbol = true
		}
	}

	classes := 0
	for _, present := range []bool{hasLower, hasUpper, hasDigit, hasSymbol} {
		if present {
			classes++
		}
	}

	length := len([]rune(value))
	result := Strength{}

	if length >= MinLength {
		result.Score++
	}
	if length >= StrongLength {
		result.Score++
	}
	if classes >= 3 {
		result.Score++
	}
	if classes == 4 {
		result.Score++
	}
	if result.Score > MaxScore {
		result.Score = MaxScore
	}

	if length < StrongLength {
		result.Hints = append(result.Hints, fmt.Sprintf("use at least %d characters (have %d)", StrongLength, length))
	}
	if !hasLower {
		result.Hints = append(result.Hints, "add lowercase letters")
	}
	if !hasUpper {
		result.Hints = append(result.Hints, "add uppercase letters")
	}
	if !hasDigit {
		result.Hints = append(result.Hints, "add digits")
	}
	if !hasSymbol {
		result.Hints = append(result.Hints, "add symbols such as "+strings.Join(strings.Split(symbols[:6], ""), " "))
	}

	return result
}
