package symbols

import "testing"

func TestCanonical(t *testing.T) {
	cases := map[string]string{
		"btcusdt":        "BTCUSDT",
		"1000PEPEUSDT":   "PEPEUSDT",
		"1000000MOGUSDT": "MOGUSDT",
		"SHIB1000USDT":   "SHIBUSDT",
		"BTC-USDT-SWAP":  "BTCUSDT",
		"XBT-USDT":       "BTCUSDT",
		"ETH/USDT":       "ETHUSDT",
		" sol_usdt ":     "SOLUSDT",
	}
	for in, want := range cases {
		if got := Canonical(in); got != want {
			t.Fatalf("Canonical(%q) = %q, want %q", in, got, want)
		}
	}
}
