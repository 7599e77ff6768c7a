package application

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/cartaway/checkout/internal/shipping/domain"
)

type ZoneRepository interface {
	ActiveZones(ctx context.Context) ([]domain.Zone, error)
}

// Engine computes candidate shipping rates for a destination. It returns the
// full candidate list; picking one is the caller's decision.
type Engine struct {
	log  *slog.Logger
	repo ZoneRepository
}

func NewEngine(log *slog.Logger, repo ZoneRepository) *Engine {
	return &Engine{log: log, repo: repo}
}

func (e *Engine) Candidates(ctx context.Context, addr domain.Address, subtotal decimal.Decimal, itemCount int, weight decimal.Decimal) ([]domain.Candidate, error) {
	zones, err := e.repo.ActiveZones(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Candidates(zones, addr, subtotal, itemCount, weight), nil
}
