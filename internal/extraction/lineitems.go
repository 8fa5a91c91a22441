package extraction

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const minDesignationLength = 3

var (
	itemsHeader = regexp.MustCompile(`(?im)^.*(?:d[ée]signation|description|article|produit|items?|qty|quantit[ée]|qt[ée]).*$`)
	itemsTotals = regexp.MustCompile(`(?im)^[ \t]*(?:sous[ \-]?total|subtotal|total|montant[ \t]+(?:ht|total|ttc)|net[ \t]+[àa][ \t]+payer)`)
	summaryLine = regexp.MustCompile(`(?i)(?:\btotal|sous[ \-]?total|\btva\b|t\.v\.a|\btax|\bvat\b|\btimbre|\bremise|net[ \t]+[àa][ \t]+payer|\bht\b|\bttc\b)`)

	lineNumber = `(\d+(?:[.,]\d+)*)`
	lineMoney  = `[ \t]*(?:DZD|DA|EUR|€|USD|\$)?`

	quantityPatterns = mustCompile(
		`(?i)(?:qt[ée]?|qty|quantit[ée])[ \t]*[:=]?[ \t]*`+lineNumber,
		`(?i)(?:^|[ \t])`+lineNumber+`[ \t]*[x×][ \t]`,
	)
	unitPricePatterns = mustCompile(
		`(?i)(?:p\.?u\.?(?:[ \t]*ht)?|prix[ \t]+unitaire|unit[ \t]+price|@)[ \t]*[:=]?[ \t]*`+lineNumber,
		`(?i)(?:^|[ \t])[x×][ \t]*`+lineNumber,
	)
	netAmountPatterns = mustCompile(
		`(?i)(?:montant|amount|net)[ \t]*[:=]?[ \t]*`+lineNumber,
		`(\d+[.,]\d{2})`+lineMoney+`[ \t]*$`,
	)
	tabularLine = regexp.MustCompile(lineNumber + `[ \t]+` + lineNumber + `[ \t]+` + lineNumber + lineMoney + `[ \t]*$`)

	numericToken = regexp.MustCompile(`(?i)^[x×]?\d+(?:[.,]\d+)*(?:%|da|dzd|€|\$)?$`)
)

// designationKeywords are stripped from a line when deriving its designation
var designationKeywords = map[string]bool{
	"qte": true, "qté": true, "qt": true, "qty": true, "quantité": true, "quantite": true,
	"pu": true, "p.u": true, "p.u.": true, "prix": true, "unitaire": true, "unit": true, "price": true,
	"montant": true, "amount": true, "net": true,
	"dzd": true, "da": true, "eur": true, "€": true, "usd": true, "$": true,
	"x": true, "×": true, "@": true,
}

// ExtractLineItems isolates the item sections of text, each bounded by an items header
// and a totals line, and parses every charge line inside them.
func ExtractLineItems(text string) []LineItem {
	items := make([]LineItem, 0)

	pos := 0
	for pos < len(text) {
		header := itemsHeader.FindStringIndex(text[pos:])
		if header == nil {
			break
		}
		start := pos + header[1]
		totals := itemsTotals.FindStringIndex(text[start:])
		if totals == nil {
			break
		}
		end := start + totals[0]

		for _, line := range strings.Split(text[start:end], "\n") {
			if item, ok := parseItemLine(line); ok {
				items = append(items, item)
			}
		}
		pos = start + totals[1]
	}

	return items
}

func parseItemLine(raw string) (LineItem, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || !strings.ContainsAny(line, "0123456789") || summaryLine.MatchString(line) {
		return LineItem{}, false
	}

	item := LineItem{
		Quantity:  firstNumber(quantityPatterns, line),
		UnitPrice: firstNumber(unitPricePatterns, line),
		NetAmount: firstNumber(netAmountPatterns, line),
	}

	if m := tabularLine.FindStringSubmatch(line); m != nil {
		if item.Quantity == nil {
			item.Quantity = numberPtr(m[1])
		}
		if item.UnitPrice == nil {
			item.UnitPrice = numberPtr(m[2])
		}
		if item.NetAmount == nil {
			item.NetAmount = numberPtr(m[3])
		}
	}

	item.Designation = designation(line)
	if item.Designation == "" {
		return LineItem{}, false
	}
	return item, true
}

func firstNumber(patterns []*regexp.Regexp, line string) *float64 {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(line); m != nil {
			if v := numberPtr(m[1]); v != nil {
				return v
			}
		}
	}
	return nil
}

func numberPtr(raw string) *float64 {
	v, ok := parseNumber(raw)
	if !ok {
		return nil
	}
	return &v
}

// designation strips numeric and keyword tokens from line. When that leaves fewer than
// minDesignationLength characters the untouched line is used instead.
func designation(line string) string {
	kept := make([]string, 0)
	for _, token := range strings.Fields(line) {
		bare := strings.Trim(strings.ToLower(token), ":=;|,")
		if bare == "" || numericToken.MatchString(bare) || designationKeywords[bare] {
			continue
		}
		kept = append(kept, strings.Trim(token, ":=;|"))
	}

	d := strings.Trim(strings.Join(kept, " "), " -|")
	if utf8.RuneCountInString(d) < minDesignationLength {
		return line
	}
	return d
}
