// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"efriend-trader/internal/models"
)

// OrderStore persists tracked orders per session key.
type OrderStore interface {
	SaveOrder(ctx context.Context, key models.SessionKey, order *models.Order) error
	LoadOrders(ctx context.Context, key models.SessionKey) ([]models.Order, error)
	DeleteOrders(ctx context.Context, key models.SessionKey) error
	History(ctx context.Context, key models.SessionKey, orderNum string) ([]OrderEvent, error)
	Close() error
}

// OrderEvent is one recorded state change of an order.
type OrderEvent struct {
	OrderNum   string
	State      models.OrderState
	Remaining  int
	RecordedAt time.Time
}
