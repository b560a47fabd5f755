package convo

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestDialogContextRoundTripKeepsCart(t *testing.T) {
	dc := DialogContext{
		ProductID:   "p1",
		ProductName: "Tee",
		VariantName: "M",
		Price:       decimal.RequireFromString("599"),
		Quantity:    3,
		Cart:        []CartItem{{ProductID: "p1", ProductName: "Tee", UnitPrice: decimal.RequireFromString("599"), Quantity: 3}},
	}
	raw, err := dc.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := DecodeContext(raw)
	if err != nil {
		t.Fatalf("DecodeContext: %v", err)
	}
	if !got.HasCart() || !cartTotal(got.Cart).Equal(decimal.NewFromInt(1797)) {
		t.Fatalf("unexpected cart after decode: %+v", got.Cart)
	}
	if got.ItemLabel() != "Tee (M)" {
		t.Fatalf("unexpected label %q", got.ItemLabel())
	}
}

func TestDecodeEmptyContext(t *testing.T) {
	for _, raw := range []string{"", "null"} {
		dc, err := DecodeContext([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeContext(%q): %v", raw, err)
		}
		if dc.HasCart() {
			t.Fatalf("expected empty context for %q", raw)
		}
	}
	if _, err := DecodeContext([]byte("{")); err == nil {
		t.Fatal("expected error for malformed context")
	}
}

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"3", 3, false},
		{" 12 pcs", 12, false},
		{"qty 7", 7, false},
		{"-4", -4, false},
		{"2.5", 0, true},
		{"many", 0, true},
	}
	for _, tc := range cases {
		got, err := parseQuantity(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseQuantity(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseQuantity(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
}
