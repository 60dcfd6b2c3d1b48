package domain

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Product is one entry of the static mockup catalog. Scene describes the
// photographic setting the mockup generator should place the design into.
type Product struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Scene string `json:"-"`
}

var titleCaser = cases.Title(language.English)

var products = []Product{
	{
		ID:    "tshirt",
		Name:  "classic t-shirt",
		Scene: "a model wearing a heavyweight cotton t-shirt, studio lighting, neutral backdrop, the design printed large on the chest",
	},
	{
		ID:    "hoodie",
		Name:  "pullover hoodie",
		Scene: "a pullover hoodie on a hanger against a clean concrete wall, soft daylight, the design centered on the front panel",
	},
	{
		ID:    "mug",
		Name:  "ceramic mug",
		Scene: "a glossy ceramic mug on a wooden desk beside a laptop, warm morning light, the design wrapped on the facing side",
	},
	{
		ID:    "poster",
		Name:  "framed poster",
		Scene: "a framed matte poster hanging on a living-room wall above a sofa, gallery lighting, the design filling the frame",
	},
	{
		ID:    "totebag",
		Name:  "canvas tote bag",
		Scene: "a natural canvas tote bag carried over a shoulder on a city street, shallow depth of field, the design printed on the bag face",
	},
	{
		ID:    "phonecase",
		Name:  "phone case",
		Scene: "a matte phone case lying on a marble surface next to earbuds, top-down shot, the design covering the case back",
	},
	{
		ID:    "sticker",
		Name:  "die-cut sticker",
		Scene: "a die-cut vinyl sticker applied to a laptop lid among other stickers, slight glare, the design as the sticker artwork",
	},
	{
		ID:    "cap",
		Name:  "embroidered cap",
		Scene: "a structured baseball cap on a wooden shelf, soft side lighting, the design embroidered on the front panel",
	},
}

func init() {
	for i := range products {
		products[i].Name = titleCaser.String(products[i].Name)
	}
}

// Products returns the catalog in display order.
func Products() []Product {
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// ProductByID looks up a catalog entry.
func ProductByID(id string) (Product, bool) {
	for _, p := range products {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}
