package grpcx

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/bcrosbie/quoteengine/internal/rpccontract"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/bcrosbie/quoteengine/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const testToken = "test-token"

func startServer(t *testing.T) *grpc.ClientConn {
	t.Helper()

	records := store.NewRecordStore(store.NewMemoryBackend(), store.Options{FlushDebounce: time.Hour})
	t.Cleanup(func() { _ = records.Close() })
	quotes := service.NewQuoteService(service.Dependencies{Store: records, StoreDriver: "memory"})

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoveryUnaryInterceptor(),
		AuthUnaryInterceptor(testToken),
		LoggingUnaryInterceptor(),
		ErrorUnaryInterceptor(),
		IdempotencyUnaryInterceptor(NewMemoryIdempotencyStore(time.Hour)),
	))
	RegisterQuoteServer(server, NewQuoteHandler(quotes))

	listener := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(listener) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func authed() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), rpccontract.TokenHeader, testToken)
}

func call(t *testing.T, conn *grpc.ClientConn, ctx context.Context, method string, request map[string]any) (map[string]any, error) {
	t.Helper()
	response := &structpb.Struct{}
	err := conn.Invoke(ctx, method, mustStruct(t, request), response)
	if err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}

func recordOf(t *testing.T, response map[string]any) map[string]any {
	t.Helper()
	record, ok := response["record"].(map[string]any)
	require.True(t, ok, "response has no record: %v", response)
	return record
}

func TestServerRunsQuotePipeline(t *testing.T) {
	conn := startServer(t)
	ctx := authed()

	created, err := call(t, conn, ctx, rpccontract.MethodCreateRecord, map[string]any{
		"title": "Marketing site",
		"brief": "Five page marketing website with a contact form, React, launch in 8 weeks.",
	})
	require.NoError(t, err)
	id := recordOf(t, created)["id"].(string)
	assert.Equal(t, "init", recordOf(t, created)["current_stage"])
	assert.Contains(t, created["next_actions"], "analyze")

	analyzed, err := call(t, conn, ctx, rpccontract.MethodAnalyze, map[string]any{"id": id})
	require.NoError(t, err)
	stage := recordOf(t, analyzed)["current_stage"]
	require.Contains(t, []any{"clarify_pending", "scope_draft"}, stage)
	assert.NotNil(t, recordOf(t, analyzed)["extraction"])
	if stage == "clarify_pending" {
		skipped := []any{}
		questions, _ := recordOf(t, analyzed)["extraction"].(map[string]any)["open_questions"].([]any)
		for _, question := range questions {
			skipped = append(skipped, question.(map[string]any)["id"])
		}
		_, err = call(t, conn, ctx, rpccontract.MethodSubmitClarification, map[string]any{
			"id":      id,
			"answers": map[string]any{},
			"skipped": skipped,
		})
		require.NoError(t, err)
	}

	scoped, err := call(t, conn, ctx, rpccontract.MethodGenerateScope, map[string]any{"id": id})
	require.NoError(t, err)
	assert.Equal(t, "scope_ready", recordOf(t, scoped)["current_stage"])

	quoted, err := call(t, conn, ctx, rpccontract.MethodApproveScope, map[string]any{
		"id":                 id,
		"base_rate_lamports": 50_000_000,
	})
	require.NoError(t, err)
	record := recordOf(t, quoted)
	assert.Equal(t, "quote_ready", record["current_stage"])
	pricing := record["pricing"].(map[string]any)
	assert.Greater(t, pricing["total_lamports"].(float64), 0.0)

	confirmed, err := call(t, conn, ctx, rpccontract.MethodConfirmQuote, map[string]any{"id": id})
	require.NoError(t, err)
	assert.Equal(t, "confirmed", recordOf(t, confirmed)["current_stage"])

	summary := &structpb.Struct{}
	require.NoError(t, conn.Invoke(context.Background(), rpccontract.MethodGetSummary, &emptypb.Empty{}, summary))
	counts := summary.AsMap()["counts"].(map[string]any)
	assert.Equal(t, 1.0, counts["records"])
}

func TestServerMapsErrorsToStatusCodes(t *testing.T) {
	conn := startServer(t)

	_, err := call(t, conn, context.Background(), rpccontract.MethodGetRecord, map[string]any{"id": "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = call(t, conn, context.Background(), rpccontract.MethodCreateRecord, map[string]any{"title": "t", "brief": "b"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	created, err := call(t, conn, authed(), rpccontract.MethodCreateRecord, map[string]any{"title": "t", "brief": "a brief"})
	require.NoError(t, err)
	id := recordOf(t, created)["id"].(string)

	_, err = call(t, conn, authed(), rpccontract.MethodConfirmQuote, map[string]any{"id": id})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	_, err = call(t, conn, authed(), rpccontract.MethodApproveScope, map[string]any{"id": id, "base_rate_lamports": -1})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServerReplaysIdempotentCreate(t *testing.T) {
	conn := startServer(t)
	request := map[string]any{
		"idempotency_key": "create-1",
		"title":           "Landing page",
		"brief":           "One page site.",
	}

	first, err := call(t, conn, authed(), rpccontract.MethodCreateRecord, request)
	require.NoError(t, err)
	second, err := call(t, conn, authed(), rpccontract.MethodCreateRecord, request)
	require.NoError(t, err)
	assert.Equal(t, recordOf(t, first)["id"], recordOf(t, second)["id"])

	list := &structpb.ListValue{}
	require.NoError(t, conn.Invoke(context.Background(), rpccontract.MethodListRecords, mustStruct(t, map[string]any{}), list))
	assert.Len(t, list.GetValues(), 1)
}

func TestServerPreviewsAreReadOnly(t *testing.T) {
	conn := startServer(t)

	scored, err := call(t, conn, context.Background(), rpccontract.MethodScoreComplexity, map[string]any{
		"feature_count":     3,
		"integration_count": 1,
		"security_level":    "basic",
		"deadline_pressure": "medium",
		"confidence_score":  0.8,
	})
	require.NoError(t, err)
	assert.Greater(t, scored["complexity_score"].(float64), 0.0)

	assessed, err := call(t, conn, context.Background(), rpccontract.MethodAssessRisk, map[string]any{
		"scope_text": "Online casino with real-money betting",
	})
	require.NoError(t, err)
	assert.Equal(t, true, assessed["requires_human_review"])
}
