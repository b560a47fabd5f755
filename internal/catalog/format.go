package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"chatshop/internal/repo"
	"chatshop/internal/wa"
)

// Selection id prefixes used in list rows.
const (
	ProductPrefix = "product_"
	VariantPrefix = "variant_"
)

const otherCategory = "Other"

// FormatAmount renders an amount with the currency symbol, dropping ".00".
func FormatAmount(symbol string, amount decimal.Decimal) string {
	if amount.Equal(amount.Truncate(0)) {
		return symbol + amount.Truncate(0).String()
	}
	return symbol + amount.StringFixed(2)
}

// ProductSections groups products into list sections by category, keeping the
// order in which categories first appear.
func ProductSections(products []repo.Product, symbol string) []wa.Section {
	grouped, order := groupByCategory(topN(products, MaxListedProducts))
	sections := make([]wa.Section, 0, len(order))
	for _, category := range order {
		sec := wa.Section{Title: category}
		for _, p := range grouped[category] {
			desc := FormatAmount(symbol, p.BasePrice)
			if d := strings.TrimSpace(p.Description); d != "" {
				desc += " - " + d
			}
			sec.Rows = append(sec.Rows, wa.Row{
				ID:          ProductPrefix + p.ID,
				Title:       p.Name,
				Description: desc,
			})
		}
		sections = append(sections, sec)
	}
	return sections
}

// VariantSections lists the variants of a product with price and stock.
func VariantSections(p *repo.Product, symbol string) []wa.Section {
	sec := wa.Section{Title: "Options"}
	for _, v := range topNVariants(p.Variants, wa.MaxListRows) {
		stock := fmt.Sprintf("%d in stock", v.StockQuantity)
		if v.StockQuantity <= 0 {
			stock = "Out of stock"
		}
		sec.Rows = append(sec.Rows, wa.Row{
			ID:          VariantPrefix + v.ID,
			Title:       v.Name,
			Description: FormatAmount(symbol, v.Price) + " | " + stock,
		})
	}
	return []wa.Section{sec}
}

func topN(items []repo.Product, n int) []repo.Product {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func topNVariants(items []repo.Variant, n int) []repo.Variant {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func groupByCategory(items []repo.Product) (map[string][]repo.Product, []string) {
	grouped := map[string][]repo.Product{}
	order := []string{}
	for _, item := range items {
		category := strings.TrimSpace(item.Category)
		if category == "" {
			category = otherCategory
		}
		if _, ok := grouped[category]; !ok {
			order = append(order, category)
		}
		grouped[category] = append(grouped[category], item)
	}
	for _, categoryItems := range grouped {
		sort.SliceStable(categoryItems, func(i, j int) bool {
			return categoryItems[i].BasePrice.LessThan(categoryItems[j].BasePrice)
		})
	}
	return grouped, order
}
