package receipt

import (
	"fmt"
	"time"

	"github.com/zombor/receipt-tracker/internal/coerce"
)

// Draft is an extracted receipt under review. Numeric fields keep the text
// the user typed next to the value it produced.
type Draft struct {
	ID            string                `json:"id"`
	UserID        string                `json:"-"`
	Generation    string                `json:"generation"`
	StoreName     string                `json:"store_name"`
	ReceiptUID    string                `json:"receipt_uid,omitempty"`
	Address       *Address              `json:"address,omitempty"`
	Date          string                `json:"date"`
	Time          string                `json:"time,omitempty"`
	Total         coerce.Field[float64] `json:"total"`
	TaxAmount     coerce.Field[float64] `json:"tax_amount"`
	QualityRating coerce.Field[int]     `json:"quality_rating"`
	Items         []*DraftItem          `json:"items"`
	Image         *Image                `json:"-"`
	CreatedAt     time.Time             `json:"created_at"`
}

// DraftItem is a line item under review
type DraftItem struct {
	Name     string                `json:"name"`
	Price    coerce.Field[float64] `json:"price"`
	Quantity coerce.Field[int]     `json:"quantity"`
}

// DraftEdit changes one field of a draft. When Item is set the field
// belongs to the item at that index.
type DraftEdit struct {
	Field string `json:"field"`
	Item  *int   `json:"item,omitempty"`
	Text  string `json:"text"`
}

// Apply performs an edit. Numeric text is coerced field by field: amounts
// fall back to 0, quantities to 1, and out-of-range ratings are ignored.
func (d *Draft) Apply(edit DraftEdit) error {
	if edit.Item != nil {
		item, err := d.item(*edit.Item)
		if err != nil {
			return err
		}
		switch edit.Field {
		case "name":
			item.Name = edit.Text
		case "price":
			item.Price.Set(edit.Text, coerce.Amount)
		case "quantity":
			item.Quantity.Set(edit.Text, coerce.Quantity)
		default:
			return fmt.Errorf("%w: unknown item field %q", ErrInvalidDraft, edit.Field)
		}
		return nil
	}

	switch edit.Field {
	case "store_name":
		d.StoreName = edit.Text
	case "receipt_uid":
		d.ReceiptUID = edit.Text
	case "street":
		d.address().Street = edit.Text
	case "postal_code":
		d.address().PostalCode = edit.Text
	case "city":
		d.address().City = edit.Text
	case "date":
		d.Date = edit.Text
	case "time":
		d.Time = edit.Text
	case "total":
		d.Total.Set(edit.Text, coerce.Amount)
	case "tax_amount":
		d.TaxAmount.Set(edit.Text, coerce.Amount)
	case "quality_rating":
		d.QualityRating.Set(edit.Text, coerce.Rating)
	default:
		return fmt.Errorf("%w: unknown field %q", ErrInvalidDraft, edit.Field)
	}
	return nil
}

// AddItem appends an empty item. Its price must be entered before saving.
func (d *Draft) AddItem() {
	d.Items = append(d.Items, &DraftItem{Quantity: coerce.NewField(1)})
}

// RemoveItem deletes the item at index
func (d *Draft) RemoveItem(index int) error {
	if _, err := d.item(index); err != nil {
		return err
	}
	d.Items = append(d.Items[:index], d.Items[index+1:]...)
	return nil
}

func (d *Draft) item(index int) (*DraftItem, error) {
	if index < 0 || index >= len(d.Items) {
		return nil, fmt.Errorf("%w: no item at index %d", ErrInvalidDraft, index)
	}
	return d.Items[index], nil
}

func (d *Draft) address() *Address {
	if d.Address == nil {
		d.Address = &Address{}
	}
	return d.Address
}

// clone copies everything except the image bytes, which are never modified
func (d *Draft) clone() *Draft {
	c := *d
	if d.Address != nil {
		addr := *d.Address
		c.Address = &addr
	}
	c.Items = make([]*DraftItem, len(d.Items))
	for i, item := range d.Items {
		it := *item
		c.Items[i] = &it
	}
	return &c
}
