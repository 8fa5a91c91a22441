// Package classify suggests chart-of-accounts entries for an extracted record.
package classify

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/zombor/doc-ledger/internal/extraction"
)

// Account is a chart-of-accounts entry chosen for a document
type Account struct {
	Code  string `json:"code" validate:"required"`
	Label string `json:"label"`
}

// Suggestion is a ranked account proposal for a record
type Suggestion struct {
	Code     string  `json:"code"`
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	Matches  int     `json:"matches"`
	Accepted int     `json:"accepted"`
}

// FallbackAccount is suggested when nothing else scores
var FallbackAccount = Account{Code: "471", Label: "Opérations en attente d'imputation"}

type rule struct {
	account  Account
	keywords []string
}

var chart = []rule{
	{Account{"6061", "Fournitures non stockables (eau, énergie)"}, []string{"électricité", "electricite", "sonelgaz", "eau", "gaz", "énergie", "energie", "carburant", "electricity", "water", "fuel"}},
	{Account{"6063", "Fournitures d'entretien et petit équipement"}, []string{"entretien", "nettoyage", "produits d'entretien", "outillage", "petit équipement", "cleaning"}},
	{Account{"6064", "Fournitures administratives"}, []string{"fournitures de bureau", "fournitures", "papier", "ramette", "stylo", "stylos", "cartouche", "toner", "classeur", "stationery", "office supplies"}},
	{Account{"607", "Achats de marchandises"}, []string{"marchandise", "marchandises", "goods", "merchandise"}},
	{Account{"613", "Locations"}, []string{"loyer", "location", "bail", "rent", "lease"}},
	{Account{"615", "Entretien, réparations et maintenance"}, []string{"réparation", "reparation", "maintenance", "dépannage", "depannage", "repair"}},
	{Account{"616", "Primes d'assurances"}, []string{"assurance", "assurances", "insurance"}},
	{Account{"622", "Rémunérations d'intermédiaires et honoraires"}, []string{"honoraires", "consultation", "conseil", "avocat", "expertise", "audit", "consulting", "fees"}},
	{Account{"624", "Transports de biens"}, []string{"transport", "livraison", "fret", "expédition", "shipping", "delivery"}},
	{Account{"625", "Déplacements, missions et réceptions"}, []string{"déplacement", "deplacement", "mission", "hôtel", "hotel", "restaurant", "billet", "voyage", "repas", "travel"}},
	{Account{"626", "Frais postaux et de télécommunications"}, []string{"téléphone", "telephone", "internet", "mobilis", "djezzy", "ooredoo", "algérie télécom", "poste", "telecom", "abonnement"}},
	{Account{"627", "Services bancaires"}, []string{"frais bancaires", "banque", "commission", "agios", "bank"}},
	{Account{"2183", "Matériel de bureau et informatique"}, []string{"ordinateur", "laptop", "imprimante", "serveur", "écran", "computer", "printer"}},
}

// Strategy turns keyword matches and prior acceptances into a relevance score
type Strategy interface {
	Score(matches, accepted int) float64
}

// FrequencyStrategy ranks by keyword matches plus a fixed weight per prior acceptance
type FrequencyStrategy struct {
	Weight float64
}

// Score implements Strategy
func (f FrequencyStrategy) Score(matches, accepted int) float64 {
	return float64(matches) + f.Weight*float64(accepted)
}

// DefaultFeedbackWeight makes one prior acceptance worth two keyword matches
const DefaultFeedbackWeight = 2.0

// Classifier maps records to account suggestions
type Classifier struct {
	feedback FeedbackStore
	strategy Strategy
}

// New creates a Classifier with the default frequency strategy
func New(feedback FeedbackStore) *Classifier {
	return NewWithStrategy(feedback, FrequencyStrategy{Weight: DefaultFeedbackWeight})
}

// NewWithStrategy creates a Classifier with a custom weighting strategy
func NewWithStrategy(feedback FeedbackStore, strategy Strategy) *Classifier {
	return &Classifier{
		feedback: feedback,
		strategy: strategy,
	}
}

// Classify returns suggestions ordered by score, best first
func (c *Classifier) Classify(record extraction.Record) ([]Suggestion, error) {
	haystack := normalizeWords(haystackFor(record))

	accepted, labels, err := c.acceptedCounts(record)
	if err != nil {
		return nil, err
	}

	suggestions := make([]Suggestion, 0)
	seen := make(map[string]bool)
	for _, r := range chart {
		seen[r.account.Code] = true
		matches := 0
		for _, kw := range r.keywords {
			if strings.Contains(haystack, normalizeWords(kw)) {
				matches++
			}
		}
		if s := c.suggest(r.account, matches, accepted[r.account.Code]); s.Score > 0 {
			suggestions = append(suggestions, s)
		}
	}

	// accounts only known from feedback, in code order
	extra := make([]string, 0)
	for code := range accepted {
		if !seen[code] {
			extra = append(extra, code)
		}
	}
	sort.Strings(extra)
	for _, code := range extra {
		if s := c.suggest(Account{Code: code, Label: labels[code]}, 0, accepted[code]); s.Score > 0 {
			suggestions = append(suggestions, s)
		}
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})

	if len(suggestions) == 0 {
		suggestions = append(suggestions, Suggestion{Code: FallbackAccount.Code, Label: FallbackAccount.Label})
	}
	return suggestions, nil
}

// RecordFeedback remembers that account was chosen for record
func (c *Classifier) RecordFeedback(record extraction.Record, account Account) error {
	if account.Code == "" {
		return fmt.Errorf("account code is required")
	}
	keys := feedbackKeys(record)
	if len(keys) == 0 {
		return nil
	}
	if err := c.feedback.Increment(keys, account); err != nil {
		return fmt.Errorf("recording feedback: %w", err)
	}
	return nil
}

func (c *Classifier) suggest(account Account, matches, accepted int) Suggestion {
	return Suggestion{
		Code:     account.Code,
		Label:    account.Label,
		Score:    c.strategy.Score(matches, accepted),
		Matches:  matches,
		Accepted: accepted,
	}
}

func (c *Classifier) acceptedCounts(record extraction.Record) (map[string]int, map[string]string, error) {
	counts := make(map[string]int)
	labels := make(map[string]string)
	for _, key := range feedbackKeys(record) {
		entries, err := c.feedback.Counts(key)
		if err != nil {
			return nil, nil, fmt.Errorf("reading feedback: %w", err)
		}
		for code, entry := range entries {
			counts[code] += entry.Count
			if labels[code] == "" {
				labels[code] = entry.Label
			}
		}
	}
	return counts, labels, nil
}

func haystackFor(record extraction.Record) string {
	parts := []string{record.Label, record.Supplier}
	for _, item := range record.LineItems {
		parts = append(parts, item.Designation)
	}
	return strings.Join(parts, " ")
}

// feedbackKeys identifies "similar" records: same supplier or same label
func feedbackKeys(record extraction.Record) []string {
	keys := make([]string, 0, 2)
	if s := strings.TrimSpace(normalizeWords(record.Supplier)); s != "" {
		keys = append(keys, "supplier:"+s)
	}
	if l := strings.TrimSpace(normalizeWords(record.Label)); l != "" {
		keys = append(keys, "label:"+l)
	}
	return keys
}

// normalizeWords lowercases s, turns punctuation into spaces and pads with spaces so
// that phrase lookups only match whole words
func normalizeWords(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return " "
	}
	return " " + strings.Join(fields, " ") + " "
}
