package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Zone is a configured tax rate for a geographic area. Zones are created by
// configuration and read-only during checkout.
type Zone struct {
	ID      int64
	Country string
	State   string
	City    string
	Rate    decimal.Decimal
	Active  bool
}

type Address struct {
	Country    string
	State      string
	City       string
	PostalCode string
}

type Result struct {
	Rate        decimal.Decimal
	Amount      decimal.Decimal
	ZoneID      int64
	UsedDefault bool
}

// Match returns the most specific zone for the address: (country, state,
// city) beats (country, state). Exactly one zone wins; overlapping zones are
// never summed.
func Match(zones []Zone, addr Address) (Zone, bool) {
	var stateMatch Zone
	var haveState bool
	for _, z := range zones {
		if !z.Active || !strings.EqualFold(z.Country, addr.Country) {
			continue
		}
		if !strings.EqualFold(z.State, addr.State) {
			continue
		}
		if z.City != "" {
			if strings.EqualFold(z.City, addr.City) {
				return z, true
			}
			continue
		}
		if !haveState {
			stateMatch, haveState = z, true
		}
	}
	return stateMatch, haveState
}

// Calculate applies the matched (or default) rate, rounded half-even to
// currency precision. It never fails: no match degrades to the default rate.
func Calculate(zones []Zone, addr Address, subtotal, defaultRate decimal.Decimal) Result {
	rate := defaultRate
	var zoneID int64
	usedDefault := true
	if z, ok := Match(zones, addr); ok {
		rate = z.Rate
		zoneID = z.ID
		usedDefault = false
	}
	return Result{
		Rate:        rate,
		Amount:      subtotal.Mul(rate).RoundBank(2),
		ZoneID:      zoneID,
		UsedDefault: usedDefault,
	}
}
