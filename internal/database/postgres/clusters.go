package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-matcher/internal/database"
)

func getCluster(ctx context.Context, q querier, ownerID string) (*database.PersonCluster, error) {
	var c database.PersonCluster
	var vec pgvector.Vector
	err := q.QueryRowContext(ctx, `
		SELECT owner_id, centroid, embedding_count, updated_at
		FROM person_clusters
		WHERE owner_id = $1
	`, ownerID).Scan(&c.OwnerID, &vec, &c.Count, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query cluster: %w", err)
	}
	c.Centroid = vec.Slice()
	return &c, nil
}

func saveCluster(ctx context.Context, q querier, c *database.PersonCluster) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO person_clusters (owner_id, centroid, embedding_count, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO UPDATE SET
			centroid = EXCLUDED.centroid,
			embedding_count = EXCLUDED.embedding_count,
			updated_at = EXCLUDED.updated_at
	`, c.OwnerID, pgvector.NewVector(c.Centroid), c.Count, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save cluster: %w", err)
	}
	return nil
}

func deleteCluster(ctx context.Context, q querier, ownerID string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM person_clusters WHERE owner_id = $1", ownerID); err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}
	return nil
}

func deleteAllClusters(ctx context.Context, q querier) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM person_clusters"); err != nil {
		return fmt.Errorf("delete clusters: %w", err)
	}
	return nil
}
