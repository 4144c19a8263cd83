package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Keys a scrape job may populate on a RawRecord. Any of them may be absent.
const (
	KeyTitle              = "title"
	KeyURL                = "url"
	KeyImageURL           = "image_url"
	KeySource             = "source"
	KeyPrice              = "price"
	KeyPriceDisplay       = "price_display"
	KeyPriceNumeric       = "price_numeric"
	KeyPriceBefore        = "price_before"
	KeyPriceBeforeNumeric = "price_before_numeric"
	KeyIsDiscounted       = "is_discounted"
	KeyRatingStr          = "rating_str"
	KeyReviewsCountStr    = "reviews_count_str"
	KeyReviewsCount       = "reviews_count"
	KeyCurrencyCode       = "currency_code"
	KeyCountryCode        = "country_code"
)

// TriState is an explicit yes/no signal that may also be unknown.
type TriState int

const (
	Unknown TriState = iota
	True
	False
)

func (t TriState) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// RawRecord is the loosely-typed output of a scrape job for one product.
// Store coverage of fields varies, so accessors return optional values
// and never fail on a missing or mistyped key.
type RawRecord map[string]any

// String returns the trimmed text value under key. Numbers are rendered
// back to text so callers parsing raw strings still see them.
func (r RawRecord) String(key string) (string, bool) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}

// Float returns an already-numeric value under key. Strings are not parsed
// here: locale-aware parsing belongs to the money parser.
func (r RawRecord) Float(key string) *float64 {
	v, ok := r[key]
	if !ok || v == nil {
		return nil
	}
	var f float64
	switch val := v.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// TriState reads a boolean signal. Absent, null, or unrecognised values
// are Unknown.
func (r RawRecord) TriState(key string) TriState {
	v, ok := r[key]
	if !ok || v == nil {
		return Unknown
	}
	switch val := v.(type) {
	case bool:
		if val {
			return True
		}
		return False
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "1", "yes":
			return True
		case "false", "0", "no":
			return False
		}
	}
	return Unknown
}
