package grpcserver_test

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"jobmate/pipeline-service/internal/grpcserver"
	"jobmate/pipeline-service/internal/kanban"
	"jobmate/pipeline-service/internal/model"
	"jobmate/pipeline-service/internal/repository"
)

func setup(t *testing.T) (*grpcserver.Client, *grpc.ClientConn, int64) {
	t.Helper()
	ctx := context.Background()
	repo, err := repository.OpenSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	job, err := model.NewJobRecord(model.ScrapedJob{
		Title: "Go Developer", Company: "Acme", Location: "Utrecht", URL: "https://example.com/jobs/1",
	}, time.Now())
	require.NoError(t, err)
	id, err := repo.Insert(ctx, job)
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	gs := grpcserver.New(kanban.NewService(repo, nil, nil), nil)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return grpcserver.NewClient(conn), conn, id
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestListJobs(t *testing.T) {
	c, _, id := setup(t)
	ctx := context.Background()

	resp, err := c.ListJobs(ctx, mustStruct(t, map[string]any{"status": "scraped"}))
	require.NoError(t, err)
	jobs := resp.GetFields()["jobs"].GetListValue().GetValues()
	require.Len(t, jobs, 1)
	job := jobs[0].GetStructValue().GetFields()
	assert.Equal(t, float64(id), job["id"].GetNumberValue())
	assert.Equal(t, "Go Developer", job["title"].GetStringValue())
	assert.IsType(t, &structpb.Value_NullValue{}, job["score"].GetKind())

	resp, err = c.ListJobs(ctx, mustStruct(t, map[string]any{"status": "applied"}))
	require.NoError(t, err)
	assert.Empty(t, resp.GetFields()["jobs"].GetListValue().GetValues())

	_, err = c.ListJobs(ctx, mustStruct(t, map[string]any{"status": "hired"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.ListJobs(ctx, mustStruct(t, map[string]any{"min_score": "high"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestMoveJob(t *testing.T) {
	c, _, id := setup(t)
	ctx := context.Background()

	resp, err := c.MoveJob(ctx, mustStruct(t, map[string]any{"id": id, "to": "reviewed", "note": "looks good"}))
	require.NoError(t, err)
	assert.Equal(t, "reviewed", resp.GetFields()["status"].GetStringValue())

	_, err = c.MoveJob(ctx, mustStruct(t, map[string]any{"id": id, "to": "offer"}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = c.MoveJob(ctx, mustStruct(t, map[string]any{"id": id, "to": "ai_analyzed"}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = c.MoveJob(ctx, mustStruct(t, map[string]any{"id": 999, "to": "reviewed"}))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.MoveJob(ctx, mustStruct(t, map[string]any{"to": "reviewed"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGetStats(t *testing.T) {
	c, _, _ := setup(t)
	resp, err := c.GetStats(context.Background(), &structpb.Struct{})
	require.NoError(t, err)
	assert.Equal(t, float64(1), resp.GetFields()["total"].GetNumberValue())
	assert.Equal(t, float64(1), resp.GetFields()["by_status"].GetStructValue().GetFields()["scraped"].GetNumberValue())
	for _, key := range []string{"total_applications", "total_interviews", "average_ai_score", "response_rate"} {
		require.Contains(t, resp.GetFields(), key)
		assert.Zero(t, resp.GetFields()[key].GetNumberValue(), key)
	}
}

func TestHealth(t *testing.T) {
	_, conn, _ := setup(t)
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: grpcserver.ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
