package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// SuspiciousCount is the threshold above which a parsed review or sales
// count is more likely a misparse than a real figure.
const SuspiciousCount = 1_000_000

var (
	// parenCountRegexp captures an explicit count inside parentheses: "(1.012)".
	parenCountRegexp = regexp.MustCompile(`\(\s*(\d[\d.,\s]*)\s*\)`)
	// multiplierRegexp captures a coefficient and a multiplier word: "1,2K", "10 mil", "1.5 millones".
	multiplierRegexp = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(millones|millón|millon|mil|k|m)(?:[^\p{L}\d]|$)`)
	nonDigitRegexp   = regexp.MustCompile(`\D`)
)

var multipliers = map[string]float64{
	"k":        1_000,
	"mil":      1_000,
	"m":        1_000_000,
	"millon":   1_000_000,
	"millón":   1_000_000,
	"millones": 1_000_000,
}

// countStrategy tries to read a count from raw. ok is false when the
// strategy does not apply and the next one should be tried.
type countStrategy struct {
	name  string
	parse func(raw string) (n int, ok bool)
}

// countStrategies is the precedence order, least ambiguous first.
var countStrategies []countStrategy

func init() {
	countStrategies = []countStrategy{
		{"parenthetical", parseParenthetical},
		{"after-bar", parseAfterBar},
		{"multiplier", parseMultiplier},
		{"digits", parseDigits},
	}
}

// ParseCount converts a raw review or sales count into an integer.
// It never fails: unparseable input yields 0.
func ParseCount(raw string) int {
	n, _ := parseCountFrom(raw, 0)
	return n
}

// ParseCountWithStrategy is ParseCount that also names the strategy that matched.
func ParseCountWithStrategy(raw string) (int, string) {
	return parseCountFrom(raw, 0)
}

func parseCountFrom(raw string, start int) (int, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ""
	}
	for _, s := range countStrategies[start:] {
		if n, ok := s.parse(raw); ok {
			return n, s.name
		}
	}
	return 0, ""
}

func parseParenthetical(raw string) (int, bool) {
	m := parenCountRegexp.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	digits := strings.Join(strings.Fields(m[1]), "")
	v, err := strconv.ParseFloat(applySeparatorHeuristic(digits), 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(v)), true
}

// parseAfterBar handles composite "rating | count" phrases by keeping only
// the text after the last bar and resuming with the strategies after this one.
func parseAfterBar(raw string) (int, bool) {
	idx := strings.LastIndex(raw, "|")
	if idx == -1 {
		return 0, false
	}
	n, _ := parseCountFrom(raw[idx+1:], 2)
	return n, true
}

// parseMultiplier reads "1.012K" as 1012: with a multiplier the coefficient
// is always below 1000, so its separator is a decimal point.
func parseMultiplier(raw string) (int, bool) {
	m := multiplierRegexp.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	coef, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
	if err != nil {
		return 0, false
	}
	factor, ok := multipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, false
	}
	return int(math.Round(coef * factor)), true
}

func parseDigits(raw string) (int, bool) {
	digits := nonDigitRegexp.ReplaceAllString(raw, "")
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}
