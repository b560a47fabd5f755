package catalog

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"chatshop/internal/repo"
)

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"599", "₹599"},
		{"1797.00", "₹1797"},
		{"49.5", "₹49.50"},
	}
	for _, tc := range cases {
		got := FormatAmount("₹", decimal.RequireFromString(tc.in))
		if got != tc.want {
			t.Fatalf("FormatAmount(%s) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestProductSectionsGroupsByCategory(t *testing.T) {
	products := []repo.Product{
		{ID: "p1", Name: "Tee", Description: "Cotton", BasePrice: decimal.RequireFromString("499"), Category: "Shirts"},
		{ID: "p2", Name: "Mug", BasePrice: decimal.RequireFromString("250"), Category: "Home"},
		{ID: "p3", Name: "Polo", BasePrice: decimal.RequireFromString("799"), Category: "Shirts"},
		{ID: "p4", Name: "Sticker", BasePrice: decimal.RequireFromString("20")},
	}

	sections := ProductSections(products, "₹")
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	if sections[0].Title != "Shirts" || len(sections[0].Rows) != 2 {
		t.Fatalf("unexpected first section: %+v", sections[0])
	}
	if sections[2].Title != otherCategory {
		t.Fatalf("expected uncategorised products under %q, got %q", otherCategory, sections[2].Title)
	}
	row := sections[0].Rows[0]
	if row.ID != "product_p1" || row.Description != "₹499 - Cotton" {
		t.Fatalf("unexpected row: %+v", row)
	}
	if sections[1].Rows[0].Description != "₹250" {
		t.Fatalf("expected bare price for product without description, got %q", sections[1].Rows[0].Description)
	}
}

func TestVariantSectionsShowStock(t *testing.T) {
	p := &repo.Product{
		ID:   "p1",
		Name: "Tee",
		Variants: []repo.Variant{
			{ID: "v1", Name: "M", Price: decimal.RequireFromString("599"), StockQuantity: 4},
			{ID: "v2", Name: "L", Price: decimal.RequireFromString("599"), StockQuantity: 0},
		},
	}
	sections := VariantSections(p, "₹")
	rows := sections[0].Rows
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].ID != "variant_v1" || !strings.Contains(rows[0].Description, "4 in stock") {
		t.Fatalf("unexpected row: %+v", rows[0])
	}
	if !strings.Contains(rows[1].Description, "Out of stock") {
		t.Fatalf("expected out of stock marker, got %q", rows[1].Description)
	}
}
