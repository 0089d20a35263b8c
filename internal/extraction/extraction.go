// Package extraction validates the structured output of the receipt
// extraction model and converts it into editable drafts. Two generations of
// output are understood: the original store/date/items/total shape and the
// current one that adds a time, address, receipt id and quality rating.
package extraction

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/zombor/receipt-tracker/internal/coerce"
	"github.com/zombor/receipt-tracker/internal/receipt"
)

// Generation identifies the shape of an extraction result
type Generation string

const (
	GenerationLegacy  Generation = "legacy"
	GenerationCurrent Generation = "current"
)

// ErrExtractionParse is matched by every error returned from Parse
var ErrExtractionParse = receipt.ErrExtractionParse

// ParseError describes why a result was rejected. It carries the raw
// response for logging.
type ParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrExtractionParse, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrExtractionParse, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrExtractionParse) hold for any ParseError
func (e *ParseError) Is(target error) bool { return target == ErrExtractionParse }

// Result is a validated extraction of either generation
type Result interface {
	Generation() Generation
	// Draft converts the result into an editable draft
	Draft() *receipt.Draft
	result()
}

// Store is the merchant block of a result
type Store struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
}

// Address is the merchant address of a current result
type Address struct {
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
}

// LegacyItem is a line item of a legacy result. Price is required.
type LegacyItem struct {
	Name     string   `json:"name"`
	Price    float64  `json:"price"`
	Quantity *float64 `json:"quantity,omitempty"`
}

// LegacyResult is the first-generation result shape
type LegacyResult struct {
	Store     Store        `json:"store"`
	Date      string       `json:"date"`
	Items     []LegacyItem `json:"items"`
	Total     float64      `json:"total"`
	TaxAmount *float64     `json:"taxAmount,omitempty"`
}

// CurrentItem is a line item of a current result. Price may be missing
// when it is unreadable.
type CurrentItem struct {
	Name     string   `json:"name"`
	Price    *float64 `json:"price,omitempty"`
	Quantity *float64 `json:"quantity,omitempty"`
}

// CurrentResult is the second-generation result shape
type CurrentResult struct {
	Store         Store         `json:"store"`
	ReceiptUID    string        `json:"receipt_uid,omitempty"`
	Address       *Address      `json:"address,omitempty"`
	Date          string        `json:"date"`
	Time          string        `json:"time"`
	Items         []CurrentItem `json:"items"`
	Total         float64       `json:"total"`
	TaxAmount     *float64      `json:"taxAmount,omitempty"`
	QualityRating float64       `json:"quality_rating"`
}

func (*LegacyResult) Generation() Generation  { return GenerationLegacy }
func (*CurrentResult) Generation() Generation { return GenerationCurrent }
func (*LegacyResult) result()                 {}
func (*CurrentResult) result()                {}

// Parse validates raw model output and decodes it. Markdown fences and
// text around the outermost JSON object are ignored. Results carrying a
// time or quality_rating key are validated as current, everything else as
// legacy. Any failure is a *ParseError.
func Parse(raw []byte) (Result, error) {
	text := jsonObject(string(raw))
	if text == "" {
		return nil, &ParseError{Reason: "no JSON object found", Raw: string(raw)}
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, &ParseError{Reason: "malformed JSON", Raw: string(raw), Err: err}
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, &ParseError{Reason: "result is not an object", Raw: string(raw)}
	}

	if obj["time"] != nil || obj["quality_rating"] != nil {
		if err := currentValidator.Validate(doc); err != nil {
			return nil, &ParseError{Reason: "current result does not match schema", Raw: string(raw), Err: err}
		}
		var res CurrentResult
		if err := json.Unmarshal([]byte(text), &res); err != nil {
			return nil, &ParseError{Reason: "decoding current result", Raw: string(raw), Err: err}
		}
		return &res, nil
	}

	if err := legacyValidator.Validate(doc); err != nil {
		return nil, &ParseError{Reason: "legacy result does not match schema", Raw: string(raw), Err: err}
	}
	var res LegacyResult
	if err := json.Unmarshal([]byte(text), &res); err != nil {
		return nil, &ParseError{Reason: "decoding legacy result", Raw: string(raw), Err: err}
	}
	return &res, nil
}

// jsonObject returns the text from the first '{' to the last '}'
func jsonObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return ""
	}
	return s[start : end+1]
}

// Draft converts a legacy result. It has no time, so saving it yields a
// date-only timestamp.
func (r *LegacyResult) Draft() *receipt.Draft {
	d := &receipt.Draft{
		Generation: string(GenerationLegacy),
		StoreName:  r.Store.Name,
		Date:       r.Date,
		Total:      coerce.NewField(r.Total),
		TaxAmount:  optionalAmount(r.TaxAmount),
		Items:      make([]*receipt.DraftItem, 0, len(r.Items)),
	}
	for _, item := range r.Items {
		d.Items = append(d.Items, &receipt.DraftItem{
			Name:     item.Name,
			Price:    coerce.NewField(item.Price),
			Quantity: coerce.NewField(quantity(item.Quantity)),
		})
	}
	return d
}

// Draft converts a current result. Items without a price stay unpriced
// until the user supplies one.
func (r *CurrentResult) Draft() *receipt.Draft {
	d := &receipt.Draft{
		Generation:    string(GenerationCurrent),
		StoreName:     r.Store.Name,
		ReceiptUID:    r.ReceiptUID,
		Date:          r.Date,
		Time:          r.Time,
		Total:         coerce.NewField(r.Total),
		TaxAmount:     optionalAmount(r.TaxAmount),
		QualityRating: coerce.NewField(int(math.Round(r.QualityRating))),
		Items:         make([]*receipt.DraftItem, 0, len(r.Items)),
	}
	if r.Address != nil {
		d.Address = &receipt.Address{
			Street:     r.Address.Street,
			PostalCode: r.Address.PostalCode,
			City:       r.Address.City,
		}
	}
	for _, item := range r.Items {
		di := &receipt.DraftItem{
			Name:     item.Name,
			Quantity: coerce.NewField(quantity(item.Quantity)),
		}
		if item.Price != nil {
			di.Price = coerce.NewField(*item.Price)
		}
		d.Items = append(d.Items, di)
	}
	return d
}

func optionalAmount(v *float64) coerce.Field[float64] {
	if v == nil {
		return coerce.Field[float64]{}
	}
	return coerce.NewField(*v)
}

// quantity defaults missing or non-positive quantities to 1 and truncates
// fractions
func quantity(v *float64) int {
	if v == nil || *v < 1 {
		return 1
	}
	return int(math.Trunc(*v))
}
