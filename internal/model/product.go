// Package model holds the domain types shared by the parser, storage, and
// ingestion packages.
package model

// Canonical CSV header names. Matching is case-insensitive; the header
// resolver uppercases every header cell before lookup.
const (
	ColUniqueKey      = "UNIQUE_KEY"
	ColTitle          = "PRODUCT_TITLE"
	ColDescription    = "PRODUCT_DESCRIPTION"
	ColStyleNumber    = "STYLE#"
	ColMainframeColor = "SANMAR_MAINFRAME_COLOR"
	ColSize           = "SIZE"
	ColColorName      = "COLOR_NAME"
	ColPiecePrice     = "PIECE_PRICE"
)

// ProductColumns lists the storage columns in the order used by every
// backend's upsert statement. unique_key is always first.
var ProductColumns = []string{
	"unique_key",
	"product_title",
	"product_description",
	"style_number",
	"sanmar_mainframe_color",
	"size",
	"color_name",
	"piece_price",
}

// Product is one catalog row keyed by UniqueKey. Nil pointers are stored as
// NULL; an upsert always replaces every attribute.
type Product struct {
	UniqueKey      string   `json:"unique_key"`
	Title          *string  `json:"product_title"`
	Description    *string  `json:"product_description"`
	StyleNumber    *string  `json:"style_number"`
	MainframeColor *string  `json:"sanmar_mainframe_color"`
	Size           *string  `json:"size"`
	ColorName      *string  `json:"color_name"`
	PiecePrice     *float64 `json:"piece_price"`
}

// Values returns the product attributes aligned with ProductColumns. Nil
// pointers become untyped nil so drivers bind NULL.
func (p Product) Values() []any {
	return []any{
		p.UniqueKey,
		strOrNil(p.Title),
		strOrNil(p.Description),
		strOrNil(p.StyleNumber),
		strOrNil(p.MainframeColor),
		strOrNil(p.Size),
		strOrNil(p.ColorName),
		floatOrNil(p.PiecePrice),
	}
}

func strOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
