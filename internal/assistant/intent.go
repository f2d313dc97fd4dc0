package assistant

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/malakmagdy1/RealStateFlutter/internal/catalog"
)

// Intent is what a classifier extracted from a chat message.
type Intent struct {
	PropertySearch bool
	Filter         catalog.Filter
}

// IntentClassifier decides whether a chat message asks for listings.
type IntentClassifier interface {
	Classify(message string) Intent
}

// KeywordClassifier flags property searches when a message names a kind of
// property or a bedroom count, in Arabic or English.
type KeywordClassifier struct{}

// Arabic words match as substrings so attached articles and prepositions
// (الشقة، بشقة) still count; English words must be whole words.
var propertyWords = []string{
	"شقة", "شقق", "فيلا", "فلل", "وحدة", "وحدات", "عقار", "شاليه", "دوبلكس", "بنتهاوس", "غرف", "غرفة",
	"apartment", "apartments", "flat", "flats", "villa", "villas", "unit", "units",
	"property", "properties", "chalet", "chalets", "penthouse", "duplex", "townhouse",
	"bedroom", "bedrooms", "sqm",
}

var bedroomsPattern = regexp.MustCompile(`(\d+)\s*(غرف|غرفة|bedrooms?|beds?|rooms?)`)

// unit type words mapped to catalog unit_type values
var unitTypes = []struct{ word, unitType string }{
	{"بنتهاوس", "penthouse"},
	{"دوبلكس", "duplex"},
	{"تاون", "townhouse"},
	{"توين", "twin"},
	{"شقة", "apartment"},
	{"شقق", "apartment"},
	{"فيلا", "villa"},
	{"شاليه", "chalet"},
	{"penthouse", "penthouse"},
	{"duplex", "duplex"},
	{"townhouse", "townhouse"},
	{"twin", "twin"},
	{"apartment", "apartment"},
	{"apartments", "apartment"},
	{"flat", "apartment"},
	{"flats", "apartment"},
	{"villa", "villa"},
	{"villas", "villa"},
	{"chalet", "chalet"},
	{"chalets", "chalet"},
}

func (KeywordClassifier) Classify(message string) Intent {
	text := strings.ToLower(message)
	words := wordSet(text)
	intent := Intent{Filter: catalog.Filter{AvailableOnly: true}}

	bedrooms := bedroomsPattern.FindStringSubmatch(text)
	for _, w := range propertyWords {
		if mentions(text, words, w) {
			intent.PropertySearch = true
			break
		}
	}
	if bedrooms != nil {
		intent.PropertySearch = true
	}
	if !intent.PropertySearch {
		return intent
	}
	if bedrooms != nil {
		if n, err := strconv.Atoi(bedrooms[1]); err == nil && n > 0 {
			intent.Filter.Bedrooms = n
		}
	}
	for _, t := range unitTypes {
		if mentions(text, words, t.word) {
			intent.Filter.UnitType = t.unitType
			break
		}
	}
	return intent
}

func wordSet(text string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		words[w] = true
	}
	return words
}

func mentions(text string, words map[string]bool, word string) bool {
	if isASCII(word) {
		return words[word]
	}
	return strings.Contains(text, word)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
