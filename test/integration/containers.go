//go:build integration

package integration

import (
	"context"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/cartaway/checkout/migrations"
)

type Env struct {
	PG    *postgres.PostgresContainer
	PGURL string
}

// Setup starts a throwaway postgres and applies the schema.
func Setup(ctx context.Context) (*Env, error) {
	pgC, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("cartaway"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}
	url, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}
	if err := migrations.Up(url); err != nil {
		_ = pgC.Terminate(ctx)
		return nil, err
	}
	return &Env{PG: pgC, PGURL: url}, nil
}

func (e *Env) Teardown(ctx context.Context) {
	_ = e.PG.Terminate(ctx)
}
