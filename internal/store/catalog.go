package store

import (
	"github.com/shopspring/decimal"
	"stockledger-backend/internal/domain"
)

var demoProducts = []struct {
	name  string
	code  string
	price string
}{
	{"Kaos Polos Hitam", "KPH", "89000"},
	{"Kemeja Flanel", "KFL", "189000"},
	{"Celana Chino", "CCH", "229000"},
}

var demoSizes = []string{"S", "M", "L", "XL"}

// DemoCatalog returns a small apparel catalog for local runs. Ids derive
// from the SKU so seeding is repeatable.
func DemoCatalog() []domain.Variant {
	out := make([]domain.Variant, 0, len(demoProducts)*len(demoSizes))
	for _, p := range demoProducts {
		for _, size := range demoSizes {
			sku := p.code + "-" + size
			out = append(out, domain.Variant{
				ID:               "var-" + sku,
				ProductID:        "prd-" + p.code,
				ProductName:      p.name,
				Size:             size,
				SKU:              sku,
				Price:            decimal.RequireFromString(p.price),
				MinQty:           3,
				Lifecycle:        domain.LifecycleActive,
				ProductLifecycle: domain.LifecycleActive,
			})
		}
	}
	return out
}
