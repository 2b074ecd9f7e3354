package db_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/pipeline-service/internal/db"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := db.NewRedisClient(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer rdb.Close()
	assert.NoError(t, rdb.Ping(context.Background()).Err())
}

func TestNewRedisClient_Errors(t *testing.T) {
	_, err := db.NewRedisClient(context.Background(), "not a url")
	assert.ErrorContains(t, err, "ParseURL")

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	_, err = db.NewRedisClient(context.Background(), "redis://"+addr)
	assert.ErrorContains(t, err, "ping")
}
