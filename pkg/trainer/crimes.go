package trainer

import (
	"github.com/tornwatch/torntrainer/pkg/torn"
)

// CrimePick is the crime chosen by the cash-per-nerve ranking.
type CrimePick struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Nerve        float64 `json:"nerve"`
	CashPerNerve float64 `json:"cash_per_nerve"`
}

// crimesAllowed reports whether the crimes cooldown has elapsed. A missing
// cooldown field counts as elapsed.
func crimesAllowed(cooldowns torn.Payload) bool {
	v, ok := cooldowns.Float("cooldowns", "crimes")
	if !ok {
		return true
	}
	return v == 0
}

// crimeNerve extracts the nerve cost from a crime entry, tolerating the
// field-name variants the API has used.
func crimeNerve(crime map[string]any) (float64, bool) {
	for _, field := range []string{"nerve", "nerve_required", "nerveCost"} {
		if v, ok := crime[field]; ok {
			if f, ok := toFloat(v); ok && f > 0 {
				return f, true
			}
		}
	}
	return 0, false
}

// crimeCash estimates the expected cash payout for a crime entry. Ranges are
// averaged; a flat value field is used as-is.
func crimeCash(crime map[string]any) float64 {
	read := func(fields ...string) (float64, bool) {
		for _, field := range fields {
			if v, ok := crime[field]; ok {
				if f, ok := toFloat(v); ok {
					return f, true
				}
			}
		}
		return 0, false
	}
	lo, okLo := read("money_min", "min_cash")
	hi, okHi := read("money_max", "max_cash")
	if okLo && okHi {
		return (lo + hi) / 2
	}
	if okLo {
		return lo
	}
	if okHi {
		return hi
	}
	if v, ok := read("value"); ok {
		return v
	}
	return 0
}

// bestCrimeByCashPerNerve picks the crime with the highest expected cash per
// nerve point. Returns nil when no scorable crime exists.
func bestCrimeByCashPerNerve(crimes torn.Payload) *CrimePick {
	table, ok := crimes["crimes"].(map[string]any)
	if !ok {
		return nil
	}

	var best *CrimePick
	for id, raw := range table {
		crime, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		nerve, ok := crimeNerve(crime)
		if !ok {
			continue
		}
		cpn := crimeCash(crime) / nerve
		if best == nil || cpn > best.CashPerNerve {
			name, _ := crime["name"].(string)
			if name == "" {
				name = id
			}
			best = &CrimePick{ID: id, Name: name, Nerve: nerve, CashPerNerve: cpn}
		}
	}
	return best
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
