package symbols

import (
	"strings"

	"signalpulse/models"
)

// FromVenue converts a venue-native contract symbol to the unified
// BASE/QUOTE[:SETTLE] form the scan backend expects.
//
//	binance BTCUSDT   -> BTC/USDT:USDT
//	bybit   ETHUSDT   -> ETH/USDT:USDT
//	mexc    SOL_USDT  -> SOL/USDT:USDT
//	coinbase BTC-USD  -> BTC/USD
func FromVenue(venue models.Venue, sym string) string {
	sym = strings.ToUpper(strings.TrimSpace(sym))
	if strings.Contains(sym, "/") {
		return sym
	}
	switch venue {
	case models.VenueBinance, models.VenueBybit:
		for _, quote := range []string{"USDT", "USDC"} {
			if base, ok := strings.CutSuffix(sym, quote); ok && base != "" {
				return base + "/" + quote + ":" + quote
			}
		}
	case models.VenueMEXC:
		if base, quote, ok := strings.Cut(sym, "_"); ok {
			return base + "/" + quote + ":" + quote
		}
	case models.VenueCoinbase:
		if base, quote, ok := strings.Cut(sym, "-"); ok {
			return base + "/" + quote
		}
	}
	return sym
}

// Compact drops the settlement suffix and separators: ZEC/USDT:USDT -> ZECUSDT.
func Compact(sym string) string {
	sym, _, _ = strings.Cut(sym, ":")
	return strings.ReplaceAll(sym, "/", "")
}

// BaseAsset returns the base currency of a symbol: ZEC/USDT:USDT -> ZEC.
func BaseAsset(sym string) string {
	sym, _, _ = strings.Cut(sym, ":")
	if i := strings.IndexAny(sym, "/-_"); i >= 0 {
		return sym[:i]
	}
	return sym
}
