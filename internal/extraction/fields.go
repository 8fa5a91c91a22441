// Package extraction turns raw OCR or PDF text into a structured, confidence-scored record.
//
// Fields are recognized by an ordered table of pattern matchers. Every matcher is tested
// independently against the full text and the first accepted match wins for its field.
package extraction

import (
	"math"
	"regexp"
	"strings"
)

type tier int

const (
	tierNone tier = iota
	tierBase
	tierExtended
)

const (
	baseFieldCount     = 6
	extendedFieldCount = 8

	baseWeight     = 0.7
	extendedWeight = 0.3

	// maxHeuristicConfidence keeps a fully matched record below ManualConfidence
	maxHeuristicConfidence = 0.99
)

// Field names, as reported by Matchers and used in version change entries
const (
	FieldDate            = "date"
	FieldIssueDate       = "issue_date"
	FieldDueDate         = "due_date"
	FieldAmount          = "amount"
	FieldTaxAmount       = "tax_amount"
	FieldCurrency        = "currency"
	FieldLabel           = "label"
	FieldSupplier        = "supplier"
	FieldSupplierAddress = "supplier_address"
	FieldSupplierEmail   = "supplier_email"
	FieldSupplierPhone   = "supplier_phone"
	FieldSupplierTaxID   = "supplier_tax_id"
	FieldReference       = "reference"
	FieldInvoiceNumber   = "invoice_number"
	FieldPaymentTerms    = "payment_terms"
)

// fieldMatcher recognizes one field. apply receives the submatches of a candidate match
// and reports whether the candidate was accepted.
type fieldMatcher struct {
	field    string
	tier     tier
	patterns []*regexp.Regexp
	apply    func(r *Record, groups []string) bool
}

const (
	datePattern   = `(\d{4}-\d{2}-\d{2}|\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4})`
	amountPattern = `(\d[\d \x{00A0}.,]*\d|\d)[ \t]*(%?)`
	currencyMark  = `(?:DZD|DA|EUR|€|USD|\$)?`
	idPattern     = `([A-Z0-9][A-Z0-9\-/_]*\d[A-Z0-9\-/_]*)`
	sep           = `[ \t]*[:\-]?[ \t]*`
)

func mustCompile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

func setDate(dst func(*Record) *string) func(*Record, []string) bool {
	return func(r *Record, groups []string) bool {
		*dst(r) = normalizeDate(groups[1])
		return true
	}
}

func setText(dst func(*Record) *string) func(*Record, []string) bool {
	return func(r *Record, groups []string) bool {
		v := cleanText(groups[1])
		if v == "" {
			return false
		}
		*dst(r) = v
		return true
	}
}

// setAmount rejects percentages so that "TVA 19%" is not read as a tax amount
func setAmount(dst func(*Record) **float64) func(*Record, []string) bool {
	return func(r *Record, groups []string) bool {
		if len(groups) > 2 && groups[2] == "%" {
			return false
		}
		v, ok := parseNumber(groups[1])
		if !ok {
			return false
		}
		*dst(r) = &v
		return true
	}
}

func setTaxID(r *Record, groups []string) bool {
	v := strings.TrimSpace(groups[1])
	if !strings.ContainsAny(v, "0123456789") {
		return false
	}
	r.SupplierTaxID = v
	return true
}

func setPhone(r *Record, groups []string) bool {
	v := strings.Join(strings.Fields(groups[1]), " ")
	digits := 0
	for _, c := range v {
		if c >= '0' && c <= '9' {
			digits++
		}
	}
	if digits < 8 {
		return false
	}
	r.SupplierPhone = v
	return true
}

func setCurrency(r *Record, groups []string) bool {
	v := normalizeCurrency(groups[1])
	if v == "" {
		return false
	}
	r.Currency = v
	return true
}

// matchers is the ordered field table. Order only matters for readability: each field
// is matched independently of the others.
var matchers = []fieldMatcher{
	{
		field: FieldDate,
		tier:  tierBase,
		patterns: mustCompile(
			`(?im)^[ \t]*(?:invoice[ \t]+)?date(?:[ \t]+(?:de[ \t]+(?:la[ \t]+)?)?(?:facture|facturation|achat|vente|op[ée]ration))?`+sep+datePattern,
			`(?i)\b(?:facture|invoice)\b[^\n]*?\bdu[ \t]+`+datePattern,
			`(?i)\ble[ \t]+`+datePattern,
		),
		apply: setDate(func(r *Record) *string { return &r.Date }),
	},
	{
		field: FieldIssueDate,
		tier:  tierNone,
		patterns: mustCompile(
			`(?i)(?:date[ \t]+d['’][ée]mission|[ée]mise?[ \t]+le|issue[ \t]+date|issued[ \t]+on)` + sep + datePattern,
		),
		apply: setDate(func(r *Record) *string { return &r.IssueDate }),
	},
	{
		field: FieldDueDate,
		tier:  tierExtended,
		patterns: mustCompile(
			`(?i)(?:date[ \t]+(?:d['’]|de[ \t]+)?[ée]ch[ée]ance|[ée]ch[ée]ance|date[ \t]+limite(?:[ \t]+de[ \t]+paiement)?|due[ \t]+date|payable[ \t]+(?:avant[ \t]+le|before|by)|due[ \t]+(?:on|by))` + sep + datePattern,
		),
		apply: setDate(func(r *Record) *string { return &r.DueDate }),
	},
	{
		field: FieldAmount,
		tier:  tierBase,
		patterns: mustCompile(
			`(?i)(?:montant[ \t]+total(?:[ \t]+ttc)?|total[ \t]+ttc|net[ \t]+[àa][ \t]+payer|total[ \t]+(?:amount|due)|amount[ \t]+due|grand[ \t]+total|total[ \t]+g[ée]n[ée]ral)[ \t]*(?:\([^)\n]*\))?`+sep+currencyMark+`[ \t]*`+amountPattern,
			`(?im)^[ \t]*(?:montant|total)`+sep+currencyMark+`[ \t]*`+amountPattern,
		),
		apply: setAmount(func(r *Record) **float64 { return &r.Amount }),
	},
	{
		field: FieldTaxAmount,
		tier:  tierBase,
		patterns: mustCompile(
			`(?i)(?:montant[ \t]+(?:de[ \t]+la[ \t]+)?tva|total[ \t]+tva|\btva|t\.v\.a\.?|\bvat|\btax(?:es?)?(?:[ \t]+amount)?)[ \t]*(?:\(?[ \t]*\d{1,2}(?:[.,]\d+)?[ \t]*%[ \t]*\)?)?` + sep + currencyMark + `[ \t]*` + amountPattern,
		),
		apply: setAmount(func(r *Record) **float64 { return &r.TaxAmount }),
	},
	{
		field: FieldLabel,
		tier:  tierBase,
		patterns: mustCompile(
			`(?im)^[ \t]*(?:objet|libell[ée]|d[ée]signation|description|label|motif|nature)[ \t]*[:\-][ \t]*([^\n]+)`,
		),
		apply: setText(func(r *Record) *string { return &r.Label }),
	},
	{
		field: FieldSupplier,
		tier:  tierBase,
		patterns: mustCompile(
			`(?im)^[ \t]*(?:fournisseur|vendeur|prestataire|[ée]metteur|soci[ée]t[ée]|raison[ \t]+sociale|supplier|vendor|seller|from)[ \t]*[:\-][ \t]*([^\n]+)`,
		),
		apply: setText(func(r *Record) *string { return &r.Supplier }),
	},
	{
		field: FieldReference,
		tier:  tierBase,
		patterns: mustCompile(
			`(?i)\br[ée]f(?:[ée]rence)?\.?(?:[ \t]+(?:client|commande|bon))?[ \t]*[:#\-]?[ \t]*(?:n[°o][ \t]*)?` + idPattern,
		),
		apply: setText(func(r *Record) *string { return &r.Reference }),
	},
	{
		field: FieldPaymentTerms,
		tier:  tierExtended,
		patterns: mustCompile(
			`(?i)(?:conditions?[ \t]+de[ \t]+(?:paiement|r[èe]glement)|modalit[ée]s?[ \t]+de[ \t]+(?:paiement|r[èe]glement)|mode[ \t]+de[ \t]+(?:paiement|r[èe]glement)|payment[ \t]+(?:terms|method)|\bterms)[ \t]*[:\-][ \t]*([^\n]+)`,
		),
		apply: setText(func(r *Record) *string { return &r.PaymentTerms }),
	},
	{
		field: FieldCurrency,
		tier:  tierExtended,
		patterns: mustCompile(
			`(?i)(?:devise|monnaie|currency)[ \t]*[:\-][ \t]*([^\n]+)`,
			`\b(DZD|DA|EUR|USD)\b`,
			`(€|US\$|\$)`,
			`(?i)\b(dinars?|euros?|dollars?)\b`,
		),
		apply: setCurrency,
	},
	{
		field: FieldInvoiceNumber,
		tier:  tierExtended,
		patterns: mustCompile(
			`(?i)\b(?:facture|invoice|fact\.?)[ \t]*(?:n[°o]\.?|num[ée]ro|number|no\.?|#)`+sep+idPattern,
			`(?i)(?:\bn[°o]|\bnum[ée]ro)[ \t]+(?:de[ \t]+)?facture`+sep+idPattern,
		),
		apply: setText(func(r *Record) *string { return &r.InvoiceNumber }),
	},
	{
		field: FieldSupplierAddress,
		tier:  tierExtended,
		patterns: mustCompile(
			`(?im)^[ \t]*(?:adresse|address|si[èe]ge(?:[ \t]+social)?)[ \t]*[:\-][ \t]*([^\n]+)`,
		),
		apply: setText(func(r *Record) *string { return &r.SupplierAddress }),
	},
	{
		field: FieldSupplierEmail,
		tier:  tierExtended,
		patterns: mustCompile(
			`(?i)([a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,})`,
		),
		apply: setText(func(r *Record) *string { return &r.SupplierEmail }),
	},
	{
		field: FieldSupplierPhone,
		tier:  tierExtended,
		patterns: mustCompile(
			`(?i)\b(?:t[ée]l[ée]phone|t[ée]l|phone|mobile|mob|gsm)\.?` + sep + `(\+?\(?\d[\d \t.\-()]{6,}\d)`,
		),
		apply: setPhone,
	},
	{
		field: FieldSupplierTaxID,
		tier:  tierExtended,
		patterns: mustCompile(
			`(?i)(?:\bn\.?i\.?f\b\.?|\bnis\b|\btax[ \t]*id|\bvat[ \t]*(?:no|number|id)|\btva[ \t]+intracom(?:munautaire)?|\bn[°o][ \t]*tva|\bsiret|\bsiren|\bmatricule[ \t]+fiscal|\bidentifiant[ \t]+fiscal)[ \t]*[:\-]?[ \t]*(?:n[°o][ \t]*)?([A-Z0-9][A-Z0-9\-/]{4,})`,
		),
		apply: setTaxID,
	},
}

// Extract runs every field matcher against text and scores the result.
// It never fails: unrecognized text yields an empty record with confidence 0.
func Extract(text string) Record {
	var record Record
	var foundBase, foundExtended int

	for _, m := range matchers {
		if !m.match(&record, text) {
			continue
		}
		switch m.tier {
		case tierBase:
			foundBase++
		case tierExtended:
			foundExtended++
		}
	}

	record.LineItems = ExtractLineItems(text)
	record.Confidence = score(foundBase, foundExtended)
	return record
}

// Matchers lists the recognized field names in table order
func Matchers() []string {
	names := make([]string, len(matchers))
	for i, m := range matchers {
		names[i] = m.field
	}
	return names
}

func (m fieldMatcher) match(r *Record, text string) bool {
	for _, re := range m.patterns {
		for _, groups := range re.FindAllStringSubmatch(text, -1) {
			if m.apply(r, groups) {
				return true
			}
		}
	}
	return false
}

func score(foundBase, foundExtended int) float64 {
	base := float64(foundBase) / baseFieldCount
	extended := float64(foundExtended) / extendedFieldCount
	return math.Min(baseWeight*base+extendedWeight*extended, maxHeuristicConfidence)
}
