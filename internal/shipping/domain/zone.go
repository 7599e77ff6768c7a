package domain

import (
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrNoZone means no shipping zone is configured for the destination. Unlike
// tax, this is a hard configuration failure.
var ErrNoZone = errors.New("no shipping zone matches address")

type Address struct {
	Country    string
	State      string
	PostalCode string
}

// Zone is a geographic matcher with a rate table.
type Zone struct {
	ID             int64
	Name           string
	Countries      []string
	States         []string
	PostalPrefixes []string
	Active         bool
	Rates          []Rate
}

type Rate struct {
	ID            int64
	ZoneID        int64
	Method        string
	BaseRate      decimal.Decimal
	PerItemRate   decimal.Decimal
	PerWeightRate decimal.Decimal
	// Nil when the method never ships free.
	FreeThreshold *decimal.Decimal
	EstimatedDays int
	Active        bool
}

// Candidate is one computed shipping option. Selection among candidates is a
// caller decision.
type Candidate struct {
	RateID        int64
	ZoneID        int64
	ZoneName      string
	Method        string
	Amount        decimal.Decimal
	EstimatedDays int
	FreeShipping  bool
}

// Matches reports whether the address falls in this zone: country must be in
// the zone's country set, and the state / postal-prefix restrictions apply
// only when configured.
func (z Zone) Matches(addr Address) bool {
	if !containsFold(z.Countries, addr.Country) {
		return false
	}
	if len(z.States) > 0 && !containsFold(z.States, addr.State) {
		return false
	}
	if len(z.PostalPrefixes) > 0 {
		for _, p := range z.PostalPrefixes {
			if strings.HasPrefix(addr.PostalCode, p) {
				return true
			}
		}
		return false
	}
	return true
}

// Compute returns max(0, base + perItem*items + perWeight*weight), forced to
// zero at or above the free-shipping threshold.
func (r Rate) Compute(subtotal decimal.Decimal, itemCount int, weight decimal.Decimal) decimal.Decimal {
	if r.FreeThreshold != nil && subtotal.GreaterThanOrEqual(*r.FreeThreshold) {
		return decimal.Zero
	}
	amount := r.BaseRate.
		Add(r.PerItemRate.Mul(decimal.NewFromInt(int64(itemCount)))).
		Add(r.PerWeightRate.Mul(weight))
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Candidates computes every (matching zone, active rate) option.
func Candidates(zones []Zone, addr Address, subtotal decimal.Decimal, itemCount int, weight decimal.Decimal) []Candidate {
	var out []Candidate
	for _, z := range zones {
		if !z.Active || !z.Matches(addr) {
			continue
		}
		for _, r := range z.Rates {
			if !r.Active {
				continue
			}
			amount := r.Compute(subtotal, itemCount, weight)
			out = append(out, Candidate{
				RateID:        r.ID,
				ZoneID:        z.ID,
				ZoneName:      z.Name,
				Method:        r.Method,
				Amount:        amount,
				EstimatedDays: r.EstimatedDays,
				FreeShipping:  amount.IsZero(),
			})
		}
	}
	return out
}

// Select picks the checkout winner among candidates: cheapest first, ties
// broken by fewer estimated days, then method name. When method is non-empty
// only candidates for that method are considered.
func Select(cands []Candidate, method string) (Candidate, error) {
	// sort a copy; the caller's candidate order is not ours to change
	filtered := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if method == "" || strings.EqualFold(c.Method, method) {
			filtered = append(filtered, c)
		}
	}
	if len(filtered) == 0 {
		return Candidate{}, ErrNoZone
	}
	sort.Slice(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.LessThan(b.Amount)
		}
		if a.EstimatedDays != b.EstimatedDays {
			return a.EstimatedDays < b.EstimatedDays
		}
		return a.Method < b.Method
	})
	return filtered[0], nil
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
