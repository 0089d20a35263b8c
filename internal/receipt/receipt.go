package receipt

import "time"

// Address is the store address printed on a receipt
type Address struct {
	Street     string `json:"street,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
}

// IsZero reports whether no address field is set
func (a *Address) IsZero() bool {
	return a == nil || (a.Street == "" && a.PostalCode == "" && a.City == "")
}

// Receipt represents a persisted receipt
type Receipt struct {
	ID         string   `json:"id"`
	UserID     string   `json:"user_id"`
	StoreName  string   `json:"store_name" validate:"required"`
	ReceiptUID string   `json:"receipt_uid,omitempty"`
	Address    *Address `json:"address,omitempty"`
	// Timestamp is either a YYYY-MM-DD date, an RFC 3339 UTC instant, or the
	// unparsed date text when normalization fell back to the original.
	Timestamp     string   `json:"timestamp" validate:"required"`
	Total         float64  `json:"total" validate:"gte=0"`
	TaxAmount     *float64 `json:"tax_amount,omitempty"`
	QualityRating *int     `json:"quality_rating,omitempty" validate:"omitempty,min=1,max=10"`
	ImageURL      string   `json:"image_url,omitempty"`
	// ItemCount is the number of items the receipt was saved with. A receipt
	// with ItemCount > 0 but no stored items lost its items during a save.
	ItemCount int       `json:"item_count"`
	Items     []*Item   `json:"items,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Item represents one persisted line item
type Item struct {
	ID        string    `json:"id"`
	ReceiptID string    `json:"receipt_id"`
	Name      string    `json:"name" validate:"required"`
	Price     float64   `json:"price"`
	Quantity  int       `json:"quantity" validate:"gte=1"`
	CreatedAt time.Time `json:"created_at"`
}

// Image is a captured receipt photo waiting to be uploaded
type Image struct {
	Data        []byte
	ContentType string
}

// DateTimeOverride replaces the extracted date and time on save. Empty
// fields keep the draft's values.
type DateTimeOverride struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

// ItemHistoryEntry is one purchase of an item along with its receipt
type ItemHistoryEntry struct {
	Item    *Item    `json:"item"`
	Receipt *Receipt `json:"receipt"`
}

// MonthTotal is the spending for one calendar month
type MonthTotal struct {
	Month string  `json:"month"` // YYYY-MM
	Label string  `json:"label"` // Jan, Feb, ...
	Total float64 `json:"total"`
}
