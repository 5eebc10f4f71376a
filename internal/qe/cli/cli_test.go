package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	qeclient "github.com/bcrosbie/quoteengine/internal/qe/client"
	qeconfig "github.com/bcrosbie/quoteengine/internal/qe/config"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/bcrosbie/quoteengine/internal/store"
	grpcx "github.com/bcrosbie/quoteengine/internal/transport/grpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type harness struct {
	conn *grpc.ClientConn
	cfgs []qeconfig.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("QUOTEENGINE_TOKEN", "")
	t.Setenv("AUTH_TOKEN", "")

	records := store.NewRecordStore(store.NewMemoryBackend(), store.Options{FlushDebounce: time.Hour})
	t.Cleanup(func() { _ = records.Close() })
	quotes := service.NewQuoteService(service.Dependencies{Store: records, StoreDriver: "memory"})

	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpcx.ErrorUnaryInterceptor(),
		grpcx.IdempotencyUnaryInterceptor(grpcx.NewMemoryIdempotencyStore(time.Hour)),
	))
	grpcx.RegisterQuoteServer(server, grpcx.NewQuoteHandler(quotes))

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
	return &harness{conn: conn}
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand("qe", strings.NewReader(stdin), &out, func(cfg qeconfig.Config) (*qeclient.Client, error) {
		h.cfgs = append(h.cfgs, cfg)
		return qeclient.NewWithConn(h.conn, "", time.Second, 1), nil
	})
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func decodeView(t *testing.T, raw string) service.RecordView {
	t.Helper()
	var view service.RecordView
	require.NoError(t, json.Unmarshal([]byte(raw), &view), raw)
	return view
}

func TestCreateListAndCancel(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "Landing page with a waitlist form, Next.js.", "create", "--title", "Landing page", "--brief-file", "-", "--client", "acme")
	require.NoError(t, err)
	created := decodeView(t, out)
	require.NotEmpty(t, created.Record.ID)
	assert.Equal(t, "Landing page with a waitlist form, Next.js.", created.Record.Brief)

	out, err = h.run(t, "", "list", "--client", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "STAGE")
	assert.Contains(t, out, created.Record.ID)
	assert.Contains(t, out, "Landing page")

	out, err = h.run(t, "", "list", "--client", "nobody", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))

	out, err = h.run(t, "", "cancel", created.Record.ID, "--reason", "duplicate")
	require.NoError(t, err)
	assert.Equal(t, "cancelled", string(decodeView(t, out).Record.CurrentStage))

	out, err = h.run(t, "", "archive", created.Record.ID)
	require.NoError(t, err)
	assert.Contains(t, out, created.Record.ID)

	_, err = h.run(t, "", "get", created.Record.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notfound")
}

func TestApproveDefaultsToConfiguredRate(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "create", "--title", "Site", "--brief", "Five page marketing website with a contact form, React, launch in 8 weeks.")
	require.NoError(t, err)
	id := decodeView(t, out).Record.ID

	out, err = h.run(t, "", "analyze", id)
	require.NoError(t, err)
	analyzed := decodeView(t, out)
	if analyzed.Record.CurrentStage == "clarify_pending" {
		args := []string{"clarify", id}
		for _, question := range analyzed.Record.Extraction.OpenQuestions {
			args = append(args, "--skip", question.ID)
		}
		_, err = h.run(t, "", args...)
		require.NoError(t, err)
	}

	_, err = h.run(t, "", "scope", id)
	require.NoError(t, err)

	out, err = h.run(t, "", "approve", id)
	require.NoError(t, err)
	quoted := decodeView(t, out)
	require.NotNil(t, quoted.Record.Pricing)
	assert.Equal(t, qeconfig.Default().BaseRateLamports, quoted.Record.Pricing.Breakdown.BaseRateLamports)
}

func TestArgumentValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "clarify", "some-id", "--answer", "no-equals-sign")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUESTION_ID=ANSWER")

	_, err = h.run(t, "", "fund", "some-id")
	require.Error(t, err)

	_, err = h.run(t, "", "create", "--title", "No brief")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brief is required")

	_, err = h.run(t, "", "list", "--review", "maybe")
	require.Error(t, err)
	assert.Empty(t, h.cfgs, "validation failures should not dial the service")
}

func TestAddrFlagOverridesConfig(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "", "--addr", "quotes.internal:7000", "health")
	require.NoError(t, err)
	require.Len(t, h.cfgs, 1)
	assert.Equal(t, "quotes.internal:7000", h.cfgs[0].GRPCAddr)
}

func TestParseAnswers(t *testing.T) {
	answers, err := parseAnswers([]string{"q1=React", " q2 = Postgres "})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"q1": "React", "q2": "Postgres"}, answers)
}
