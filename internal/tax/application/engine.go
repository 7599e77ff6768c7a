package application

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/cartaway/checkout/internal/tax/domain"
)

type ZoneRepository interface {
	ActiveZones(ctx context.Context) ([]domain.Zone, error)
}

// Engine matches a destination address to the most specific configured tax
// zone and applies its rate. Absence of a match degrades to the default rate
// rather than erroring.
type Engine struct {
	log         *slog.Logger
	repo        ZoneRepository
	defaultRate decimal.Decimal
}

func NewEngine(log *slog.Logger, repo ZoneRepository, defaultRate decimal.Decimal) *Engine {
	return &Engine{log: log, repo: repo, defaultRate: defaultRate}
}

func (e *Engine) Calculate(ctx context.Context, addr domain.Address, subtotal decimal.Decimal) (domain.Result, error) {
	zones, err := e.repo.ActiveZones(ctx)
	if err != nil {
		return domain.Result{}, err
	}
	res := domain.Calculate(zones, addr, subtotal, e.defaultRate)
	if res.UsedDefault {
		e.log.Info("no tax zone matched, using default rate",
			"country", addr.Country, "state", addr.State, "rate", e.defaultRate.String())
	}
	return res, nil
}
