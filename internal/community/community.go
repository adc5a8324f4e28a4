// Package community answers membership questions the exchange depends on
// but does not own: which communities exist and who may act for a treasury.
package community

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/communex/goldboard/internal/models"
)

// Directory resolves community leadership and active communities.
type Directory interface {
	IsLeader(ctx context.Context, userID, communityID int64) (bool, error)
	ListActive(ctx context.Context) ([]models.Community, error)
}

// PG looks communities up in PostgreSQL.
type PG struct {
	pool *pgxpool.Pool
}

// NewPG creates a Postgres-backed directory.
func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

// IsLeader reports whether the user holds leadership of the community.
func (d *PG) IsLeader(ctx context.Context, userID, communityID int64) (bool, error) {
	var isLeader bool
	err := d.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM community_leaders WHERE community_id = $1 AND user_id = $2)",
		communityID, userID).Scan(&isLeader)
	if err != nil {
		return false, fmt.Errorf("failed to check leadership: %w", err)
	}
	return isLeader, nil
}

// ListActive returns every community with a currency on the board.
func (d *PG) ListActive(ctx context.Context) ([]models.Community, error) {
	rows, err := d.pool.Query(ctx, "SELECT id, name, created_at FROM communities ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list communities: %w", err)
	}
	defer rows.Close()

	var communities []models.Community
	for rows.Next() {
		var c models.Community
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan community: %w", err)
		}
		communities = append(communities, c)
	}
	return communities, rows.Err()
}
