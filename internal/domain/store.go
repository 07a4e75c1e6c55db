package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit   int
	Offset  int
	Account string
	Since   *time.Time
}

// Activity is one accepted submission made through this process.
type Activity struct {
	ID        int64     `json:"id"`
	Action    Action    `json:"action"`
	Account   string    `json:"account"`
	ItemID    uint64    `json:"itemId,omitempty"`
	Name      string    `json:"name,omitempty"`
	Price     string    `json:"price"`
	TxHash    string    `json:"txHash"`
	CreatedAt time.Time `json:"createdAt"`
}

// ActivityStore persists an append-only log of accepted submissions.
type ActivityStore interface {
	Record(ctx context.Context, a Activity) error
	List(ctx context.Context, opts ListOpts) ([]Activity, error)
}
