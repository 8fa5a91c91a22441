package extraction

import (
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order; invoices in the corpus are day-first
var dateLayouts = []string{
	"2006-01-02",
	"2/1/2006",
	"2-1-2006",
	"2.1.2006",
	"2/1/06",
	"2-1-06",
	"2.1.06",
}

// normalizeDate converts a matched date to YYYY-MM-DD, keeping the raw text when no layout fits
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, raw); err == nil {
			return d.Format("2006-01-02")
		}
	}
	return raw
}

// parseNumber parses an amount written with either ',' or '.' as the decimal separator.
// Spaces (including NBSP) are thousands separators. When both separators appear, the
// last one is the decimal separator. A separator repeated on its own ("1.250.000") only
// groups thousands; a single one is always decimal.
func parseNumber(raw string) (float64, bool) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, raw)
	if s == "" {
		return 0, false
	}

	dots, commas := strings.Count(s, "."), strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		last := strings.LastIndexAny(s, ".,")
		s = strings.NewReplacer(".", "", ",", "").Replace(s[:last]) + "." + s[last+1:]
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	default:
		s = strings.Replace(s, ",", ".", 1)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// normalizeCurrency maps recognizable currency markers to a fixed code
func normalizeCurrency(raw string) string {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	switch {
	case lower == "da" || strings.Contains(lower, "dzd") || strings.Contains(lower, "dinar"):
		return "DZD"
	case strings.Contains(lower, "eur") || strings.Contains(lower, "€"):
		return "EUR"
	case strings.Contains(lower, "usd") || strings.Contains(lower, "$") || strings.Contains(lower, "dollar"):
		return "USD"
	}
	return trimmed
}

// cleanText trims whitespace and trailing separators from a captured label
func cleanText(raw string) string {
	return strings.Trim(strings.Join(strings.Fields(raw), " "), " ,;:-|")
}
