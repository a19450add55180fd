package health

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolStatus(t *testing.T) {
	tests := []struct {
		name     string
		acquired int32
		limit    int32
		want     Status
	}{
		{"空池", 0, 0, StatusHealthy},
		{"半载", 2, 4, StatusHealthy},
		{"接近上限", 19, 20, StatusDegraded},
		{"用满", 4, 4, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, _ := poolStatus(tt.acquired, tt.limit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPostgresChecker_Live(t *testing.T) {
	dsn := os.Getenv("MESH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("MESH_TEST_PG_DSN not set, skipping test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	defer pool.Close()

	c := NewPostgresChecker(pool)
	assert.Equal(t, "postgres", c.Name())
	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Contains(t, res.Details, "max_conns")
}
