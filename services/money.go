package services

import (
	"regexp"
	"strconv"
	"strings"
)

// commaDecimalCountries write 1.234,56: dot groups thousands, comma marks decimals.
// Every other country is assumed to write 1,234.56.
var commaDecimalCountries = map[string]struct{}{
	"AR": {}, "BR": {}, "CL": {}, "CO": {}, "PY": {}, "UY": {},
	"ES": {}, "DE": {}, "FR": {}, "IT": {}, "PT": {}, "NL": {},
}

// moneyStripRegexp removes everything but digits and the two separators.
var moneyStripRegexp = regexp.MustCompile(`[^\d.,]`)

// UsesCommaDecimal reports whether countryCode writes decimals with a comma.
func UsesCommaDecimal(countryCode string) bool {
	_, ok := commaDecimalCountries[strings.ToUpper(strings.TrimSpace(countryCode))]
	return ok
}

// ParseMoney converts a raw monetary string into an amount.
// A non-empty countryCode selects that country's separator convention;
// without one the separator role is inferred from the trailing digit run.
// The second return is false when the text holds no usable number.
//
//	ParseMoney("$ 1.234.567,89", "AR") → 1234567.89
//	ParseMoney("USD 1,234.56", "US")   → 1234.56
//	ParseMoney("1.234", "")            → 1234
func ParseMoney(raw, countryCode string) (float64, bool) {
	cleaned := moneyStripRegexp.ReplaceAllString(raw, "")
	if !strings.ContainsAny(cleaned, "0123456789") {
		return 0, false
	}

	var numeric string
	if strings.TrimSpace(countryCode) != "" {
		numeric = applyCountryConvention(cleaned, countryCode)
	} else {
		numeric = applySeparatorHeuristic(cleaned)
	}

	v, err := strconv.ParseFloat(numeric, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func applyCountryConvention(cleaned, countryCode string) string {
	if UsesCommaDecimal(countryCode) {
		return strings.ReplaceAll(strings.ReplaceAll(cleaned, ".", ""), ",", ".")
	}
	return strings.ReplaceAll(cleaned, ",", "")
}

// applySeparatorHeuristic decides what the last separator means from the
// length of the digit run after it: up to two digits is a decimal part,
// three or more is a thousands group. "1.234" is therefore 1234, since
// catalog prices are rarely written with sub-cent precision.
func applySeparatorHeuristic(cleaned string) string {
	last := strings.LastIndexAny(cleaned, ".,")
	if last == -1 {
		return cleaned
	}

	after := cleaned[last+1:]
	if len(after) >= 3 {
		return strings.NewReplacer(".", "", ",", "").Replace(cleaned)
	}

	other := ","
	if cleaned[last] == ',' {
		other = "."
	}
	before := strings.ReplaceAll(cleaned[:last], other, "")
	return before + "." + after
}
