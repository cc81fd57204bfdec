// Package symbols maps exchange specific instrument names onto the plain
// BASEQUOTE form used for thresholds and profile assignments.
package symbols

import "strings"

// Canonical uppercases sym, strips separators and swap suffixes, maps XBT to
// BTC and drops the 1000x contract multiplier Binance and Bybit put on
// low priced coins (1000PEPEUSDT, SHIB1000USDT).
func Canonical(sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	sym = strings.TrimSuffix(sym, "-SWAP")
	sym = strings.NewReplacer("-", "", "/", "", "_", "").Replace(sym)
	if strings.HasPrefix(sym, "XBT") {
		sym = "BTC" + sym[3:]
	}

	switch {
	case strings.HasPrefix(sym, "1000000"):
		sym = sym[len("1000000"):]
	case strings.HasPrefix(sym, "1000"):
		sym = sym[len("1000"):]
	default:
		for _, quote := range []string{"USDT", "USDC", "USD"} {
			base, ok := strings.CutSuffix(sym, "1000"+quote)
			if ok && base != "" {
				sym = base + quote
				break
			}
		}
	}
	return sym
}
