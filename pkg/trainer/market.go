package trainer

import (
	"github.com/tornwatch/torntrainer/pkg/torn"
)

// lowestBazaarPrice finds the cheapest bazaar listing in a market item
// payload. The listing set may be a JSON array or an object keyed by
// listing ID.
func lowestBazaarPrice(info torn.Payload) (float64, bool) {
	listings, ok := info["bazaar"]
	if !ok {
		return 0, false
	}

	var prices []float64
	collect := func(entry any) {
		m, ok := entry.(map[string]any)
		if !ok {
			return
		}
		for _, field := range []string{"cost", "price"} {
			if v, ok := m[field]; ok {
				if f, ok := toFloat(v); ok {
					prices = append(prices, f)
					return
				}
			}
		}
	}

	switch typed := listings.(type) {
	case []any:
		for _, entry := range typed {
			collect(entry)
		}
	case map[string]any:
		for _, entry := range typed {
			collect(entry)
		}
	}

	if len(prices) == 0 {
		return 0, false
	}
	lowest := prices[0]
	for _, p := range prices[1:] {
		if p < lowest {
			lowest = p
		}
	}
	return lowest, true
}
