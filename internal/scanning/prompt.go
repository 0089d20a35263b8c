package scanning

import "github.com/google/generative-ai-go/genai"

// receiptScanPrompt is the shared prompt used by all LLM providers for scanning receipts
const receiptScanPrompt = `You are analyzing a photo of a shopping receipt. Carefully read all text in the image and extract the following information:

1. **Store**: The merchant name printed at the top of the receipt, e.g. "EDEKA", "REWE", "Lidl".

2. **Receipt ID**: The receipt, transaction or "Beleg" number if one is printed.

3. **Address**: The street, postal code and city of the store.

4. **Date**: The purchase date exactly as printed, in DD.MM.YY or DD.MM.YYYY form. Do not reformat it.

5. **Time**: The purchase time as HH:MM in 24-hour form.

6. **Items**: Every purchased line item with its name, price and quantity. Use the price of the line as printed. If a price is unreadable, omit it. If no quantity is printed, use 1.

7. **Total**: The final amount paid, usually labeled "SUMME", "TOTAL" or "zu zahlen".

8. **Tax**: The total tax amount if printed.

9. **Quality rating**: How legible the photo is, from 1 (unreadable) to 10 (perfectly sharp).

Return ONLY valid JSON in this exact format:
{
  "store": {"name": "Store Name"},
  "receipt_uid": "1234",
  "address": {"street": "Street 1", "postal_code": "12345", "city": "City"},
  "date": "DD.MM.YY",
  "time": "HH:MM",
  "items": [{"name": "Item", "price": 0.00, "quantity": 1}],
  "total": 0.00,
  "taxAmount": 0.00,
  "quality_rating": 8
}

Important:
- Amounts must be numbers (not strings) using a dot as decimal separator
- Discounts are items with a negative price
- If you cannot find an optional field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`

// receiptSchema mirrors extraction.CurrentSchema for Gemini's structured output
func receiptSchema() *genai.Schema {
	nullableString := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc, Nullable: true}
	}

	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"store": {
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":     {Type: genai.TypeString, Description: "Name of the store"},
					"location": nullableString("Location of the store"),
				},
				Required: []string{"name"},
			},
			"receipt_uid": nullableString("Receipt or transaction number"),
			"address": {
				Type:     genai.TypeObject,
				Nullable: true,
				Properties: map[string]*genai.Schema{
					"street":      nullableString("Street and house number"),
					"postal_code": nullableString("Postal code"),
					"city":        nullableString("City"),
				},
			},
			"date": {Type: genai.TypeString, Description: "Purchase date as DD.MM.YY or DD.MM.YYYY"},
			"time": {Type: genai.TypeString, Description: "Purchase time as HH:MM"},
			"items": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"name":     {Type: genai.TypeString, Description: "Name of the item"},
						"price":    {Type: genai.TypeNumber, Description: "Price of the item", Nullable: true},
						"quantity": {Type: genai.TypeNumber, Description: "Quantity of the item", Nullable: true},
					},
					Required: []string{"name"},
				},
			},
			"total":          {Type: genai.TypeNumber, Description: "Total amount of the receipt"},
			"taxAmount":      {Type: genai.TypeNumber, Description: "Tax amount on the receipt", Nullable: true},
			"quality_rating": {Type: genai.TypeInteger, Description: "Legibility of the photo from 1 to 10"},
		},
		Required: []string{"store", "date", "time", "items", "total", "quality_rating"},
	}
}
