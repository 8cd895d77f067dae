package match

import "github.com/predictx/matching-core/protocol"

// validatePrice checks the open-interval bound and tick alignment for a
// limit price. Prices sit strictly between 0 and protocol.PriceScale.
func validatePrice(price, tick int64) error {
	if price <= 0 || price >= protocol.PriceScale {
		return ErrInvalidPriceTick
	}
	if tick <= 0 || price%tick != 0 {
		return ErrInvalidPriceTick
	}
	return nil
}

// validGranularity reports whether g is one of the supported multiples of
// the current tick.
func validGranularity(g, tick int64) bool {
	if tick <= 0 || g <= 0 || g%tick != 0 {
		return false
	}
	step := g / tick
	for _, s := range GranularitySteps {
		if s == step {
			return true
		}
	}
	return false
}

// buyCost is the escrow a buy order requires. Price is micros per share
// and a winning share pays protocol.PriceScale micros, so the cost in
// micros of the collateral unit is simply price * quantity.
func buyCost(price, quantity int64) int64 {
	return price * quantity
}
