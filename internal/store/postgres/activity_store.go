package postgres

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

// maxListLimit caps a single page of activity rows.
const maxListLimit = 500

// ActivityStore implements domain.ActivityStore using PostgreSQL.
type ActivityStore struct {
	pool *pgxpool.Pool
}

// NewActivityStore creates an ActivityStore backed by the given pool.
func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

// Record appends one accepted submission. Recording the same transaction
// twice is a no-op.
func (s *ActivityStore) Record(ctx context.Context, a domain.Activity) error {
	if a.ItemID > math.MaxInt64 {
		return fmt.Errorf("postgres: record activity %s: item id %d out of range", a.TxHash, a.ItemID)
	}
	price := a.Price
	if price == "" {
		price = "0"
	}

	const query = `
		INSERT INTO activity_log (action, account, item_id, name, price, tx_hash, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, COALESCE($7, NOW()))
		ON CONFLICT (tx_hash) DO NOTHING`

	var createdAt any
	if !a.CreatedAt.IsZero() {
		createdAt = a.CreatedAt
	}
	_, err := s.pool.Exec(ctx, query,
		string(a.Action), a.Account, int64(a.ItemID), a.Name, price, a.TxHash, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record activity %s: %w", a.TxHash, err)
	}
	return nil
}

// List returns activity rows, newest first.
func (s *ActivityStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Activity, error) {
	query, args := buildListQuery(opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list activity: %w", err)
	}
	defer rows.Close()

	var out []domain.Activity
	for rows.Next() {
		var (
			a      domain.Activity
			action string
			itemID int64
		)
		if err := rows.Scan(&a.ID, &action, &a.Account, &itemID, &a.Name, &a.Price, &a.TxHash, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan activity: %w", err)
		}
		a.Action = domain.Action(action)
		a.ItemID = uint64(itemID)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list activity rows: %w", err)
	}
	return out, nil
}

func buildListQuery(opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT id, action, account, item_id, name, price::text, tx_hash, created_at FROM activity_log WHERE 1=1`)
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if opts.Account != "" {
		b.WriteString(" AND lower(account) = lower(" + arg(opts.Account) + ")")
	}
	if opts.Since != nil {
		b.WriteString(" AND created_at >= " + arg(*opts.Since))
	}

	b.WriteString(" ORDER BY created_at DESC, id DESC")

	limit := opts.Limit
	if limit <= 0 || limit > maxListLimit {
		limit = maxListLimit
	}
	b.WriteString(" LIMIT " + arg(limit))
	if opts.Offset > 0 {
		b.WriteString(" OFFSET " + arg(opts.Offset))
	}
	return b.String(), args
}

// Compile-time interface check.
var _ domain.ActivityStore = (*ActivityStore)(nil)
