package extraction

// Record is the structured output of extraction for one document
type Record struct {
	Date            string     `json:"date,omitempty"`
	IssueDate       string     `json:"issue_date,omitempty"`
	DueDate         string     `json:"due_date,omitempty"`
	Amount          *float64   `json:"amount,omitempty"`
	TaxAmount       *float64   `json:"tax_amount,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	Label           string     `json:"label,omitempty"`
	Supplier        string     `json:"supplier,omitempty"`
	SupplierAddress string     `json:"supplier_address,omitempty"`
	SupplierEmail   string     `json:"supplier_email,omitempty"`
	SupplierPhone   string     `json:"supplier_phone,omitempty"`
	SupplierTaxID   string     `json:"supplier_tax_id,omitempty"`
	Reference       string     `json:"reference,omitempty"`
	InvoiceNumber   string     `json:"invoice_number,omitempty"`
	PaymentTerms    string     `json:"payment_terms,omitempty"`
	LineItems       []LineItem `json:"line_items"`
	Confidence      float64    `json:"confidence"`
}

// LineItem is one itemized charge line
type LineItem struct {
	Designation string   `json:"designation"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	NetAmount   *float64 `json:"net_amount,omitempty"`
}

// ManualConfidence is the score of a record produced or confirmed by a human edit.
// Heuristic extraction never reaches it.
const ManualConfidence = 1.0

// Clone returns a deep copy of the record
func (r Record) Clone() Record {
	out := r
	out.Amount = cloneFloat(r.Amount)
	out.TaxAmount = cloneFloat(r.TaxAmount)
	out.LineItems = make([]LineItem, len(r.LineItems))
	for i, item := range r.LineItems {
		out.LineItems[i] = LineItem{
			Designation: item.Designation,
			Quantity:    cloneFloat(item.Quantity),
			UnitPrice:   cloneFloat(item.UnitPrice),
			NetAmount:   cloneFloat(item.NetAmount),
		}
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
