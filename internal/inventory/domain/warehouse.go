package domain

import (
	"errors"
	"time"
)

var ErrWarehouseNotFound = errors.New("warehouse not found")

// Warehouse is a physical stock location. At most one warehouse is primary at
// any time; the ledger enforces this transactionally, not by convention.
type Warehouse struct {
	ID        int64
	Name      string
	Code      string
	Active    bool
	Primary   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
