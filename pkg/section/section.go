// Package section parses and validates the item labels that name sections
// of a periodic filing ("Item 1A", "Item 7A", ...).
package section

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnrecognizedSection is returned when a label does not name one of the
// recognized item numbers. It is a configuration error, not a per-document
// failure.
var ErrUnrecognizedSection = errors.New("unrecognized section")

// itemNumberPattern finds the leading item number token in free text.
var itemNumberPattern = regexp.MustCompile(`\d+[A-Z]*`)

// itemDefinition pairs a recognized item number with its customary title.
type itemDefinition struct {
	Number string
	Title  string
}

// recognizedItems lists the item numbers a label may name, in filing order.
var recognizedItems = []itemDefinition{
	{"1", "Business"},
	{"1A", "Risk Factors"},
	{"1B", "Unresolved Staff Comments"},
	{"2", "Properties"},
	{"3", "Legal Proceedings"},
	{"4", "Mine Safety Disclosures"},
	{"5", "Market for Registrant's Common Equity"},
	{"6", "Selected Financial Data"},
	{"7", "Management's Discussion and Analysis"},
	{"7A", "Quantitative and Qualitative Disclosures About Market Risk"},
	{"8", "Financial Statements and Supplementary Data"},
	{"9", "Changes in and Disagreements with Accountants"},
	{"9A", "Controls and Procedures"},
	{"9B", "Other Information"},
	{"10", "Directors, Executive Officers and Corporate Governance"},
	{"11", "Executive Compensation"},
	{"12", "Security Ownership of Certain Beneficial Owners and Management"},
	{"13", "Certain Relationships and Related Transactions"},
	{"14", "Principal Accountant Fees and Services"},
	{"15", "Exhibits and Financial Statement Schedules"},
}

// Label is a validated section label.
type Label struct {
	number string
}

// ParseLabel extracts the item number from free text such as "Item 1A",
// "item 7a." or "1B" and validates it against the recognized set.
func ParseLabel(text string) (Label, error) {
	number := itemNumberPattern.FindString(strings.ToUpper(text))
	if number == "" {
		return Label{}, fmt.Errorf("%w: %q has no item number (available: %s)",
			ErrUnrecognizedSection, text, strings.Join(RecognizedNumbers(), ", "))
	}
	if !IsRecognized(number) {
		return Label{}, fmt.Errorf("%w: %s (available: %s)",
			ErrUnrecognizedSection, number, strings.Join(RecognizedNumbers(), ", "))
	}
	return Label{number: number}, nil
}

// MustParseLabel is ParseLabel for labels known at compile time.
func MustParseLabel(text string) Label {
	label, err := ParseLabel(text)
	if err != nil {
		panic(err)
	}
	return label
}

// Number returns the bare item number, e.g. "1A".
func (l Label) Number() string {
	return l.number
}

// String returns the canonical label, e.g. "Item 1A".
func (l Label) String() string {
	if l.number == "" {
		return ""
	}
	return "Item " + l.number
}

// Title returns the customary heading of the item, e.g. "Risk Factors".
func (l Label) Title() string {
	for _, item := range recognizedItems {
		if item.Number == l.number {
			return item.Title
		}
	}
	return ""
}

// IsZero reports whether the label was never parsed.
func (l Label) IsZero() bool {
	return l.number == ""
}

// IsRecognized reports whether number is one of the recognized item numbers.
func IsRecognized(number string) bool {
	for _, item := range recognizedItems {
		if item.Number == number {
			return true
		}
	}
	return false
}

// RecognizedNumbers returns the recognized item numbers in filing order.
func RecognizedNumbers() []string {
	numbers := make([]string, 0, len(recognizedItems))
	for _, item := range recognizedItems {
		numbers = append(numbers, item.Number)
	}
	return numbers
}
