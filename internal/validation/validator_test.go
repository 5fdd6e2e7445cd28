package validation

import "testing"

func fieldSet(errs ValidationErrors) map[string]bool {
	out := make(map[string]bool, len(errs))
	for _, e := range errs {
		out[e.Field] = true
	}
	return out
}

func TestValidateOrderRequest(t *testing.T) {
	cases := []struct {
		name       string
		base       string
		quote      string
		side       string
		quantity   string
		price      string
		wantFields []string
	}{
		{"valid", "BTC", "USD", "buy", "1.5", "100", nil},
		{"valid lowercase", " btc ", "usd", "SELL", "1", "0.0001", nil},
		{"missing base", "", "USD", "buy", "1", "100", []string{"base_asset"}},
		{"bad asset code", "B", "USD", "buy", "1", "100", []string{"base_asset"}},
		{"symbols in asset", "BT-C", "USD", "buy", "1", "100", []string{"base_asset"}},
		{"same assets", "BTC", "btc", "buy", "1", "100", []string{"quote_asset"}},
		{"bad side", "BTC", "USD", "hold", "1", "100", []string{"side"}},
		{"zero quantity", "BTC", "USD", "buy", "0", "100", []string{"quantity"}},
		{"negative price", "BTC", "USD", "buy", "1", "-5", []string{"price"}},
		{"non numeric", "BTC", "USD", "buy", "abc", "xyz", []string{"quantity", "price"}},
		{"all empty", "", "", "", "", "", []string{"base_asset", "quote_asset", "side", "quantity", "price"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := ValidateOrderRequest(tc.base, tc.quote, tc.side, tc.quantity, tc.price)
			if len(tc.wantFields) == 0 {
				if len(errs) != 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			got := fieldSet(errs)
			for _, field := range tc.wantFields {
				if !got[field] {
					t.Fatalf("expected error on %s, got %v", field, errs)
				}
			}
			if len(errs) != len(tc.wantFields) {
				t.Fatalf("expected %d errors, got %v", len(tc.wantFields), errs)
			}
		})
	}
}

func TestValidateTransferRequest(t *testing.T) {
	if errs := ValidateTransferRequest("BTC", "1.25"); len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
	errs := ValidateTransferRequest("", "-1")
	got := fieldSet(errs)
	if !got["asset"] || !got["amount"] {
		t.Fatalf("expected asset and amount errors, got %v", errs)
	}
}

func TestNormalizeAsset(t *testing.T) {
	if got := NormalizeAsset("  btc "); got != "BTC" {
		t.Fatalf("expected BTC, got %q", got)
	}
}
