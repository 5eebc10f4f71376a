package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	qeconfig "github.com/bcrosbie/quoteengine/internal/qe/config"
	"github.com/bcrosbie/quoteengine/internal/rpccontract"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type Client struct {
	conn          grpc.ClientConnInterface
	closer        func() error
	token         string
	requestTO     time.Duration
	retryAttempts int
}

func New(cfg qeconfig.Config, token string) (*Client, error) {
	cred := grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	if cfg.Insecure() {
		cred = grpc.WithTransportCredentials(insecure.NewCredentials())
	}

	conn, err := grpc.NewClient(
		cfg.GRPCAddr,
		cred,
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                25 * time.Second,
			Timeout:             6 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.GRPCAddr, err)
	}
	conn.Connect()

	client := NewWithConn(conn, token, cfg.RequestTimeout, cfg.RetryAttempts)
	client.closer = conn.Close
	return client, nil
}

// NewWithConn wraps an existing connection. The caller keeps ownership of it.
func NewWithConn(conn grpc.ClientConnInterface, token string, requestTimeout time.Duration, retryAttempts int) *Client {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &Client{
		conn:          conn,
		token:         strings.TrimSpace(token),
		requestTO:     requestTimeout,
		retryAttempts: retryAttempts,
	}
}

func (c *Client) Close() error {
	if c == nil || c.closer == nil {
		return nil
	}
	return c.closer()
}

func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	response := &structpb.Struct{}
	if err := c.invoke(ctx, rpccontract.MethodGetHealth, &emptypb.Empty{}, response); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}

func (c *Client) Summary(ctx context.Context) (domain.Summary, error) {
	response := &structpb.Struct{}
	if err := c.invoke(ctx, rpccontract.MethodGetSummary, &emptypb.Empty{}, response); err != nil {
		return domain.Summary{}, err
	}
	var summary domain.Summary
	err := decode(response.AsMap(), &summary)
	return summary, err
}

type CreateInput struct {
	Title          string
	Brief          string
	ClientID       string
	CounterpartyID string
	// IdempotencyKey defaults to a fresh UUID so retries never create twice.
	IdempotencyKey string
}

func (c *Client) CreateRecord(ctx context.Context, input CreateInput) (service.RecordView, error) {
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	return c.recordCall(ctx, rpccontract.MethodCreateRecord, map[string]any{
		"title":           strings.TrimSpace(input.Title),
		"brief":           input.Brief,
		"client_id":       strings.TrimSpace(input.ClientID),
		"counterparty_id": strings.TrimSpace(input.CounterpartyID),
		"idempotency_key": key,
	})
}

func (c *Client) GetRecord(ctx context.Context, id string) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodGetRecord, idPayload(id))
}

type ListFilter struct {
	ClientID       string
	CounterpartyID string
	Stage          string
	RequiresReview *bool
	Limit          int
}

func (c *Client) ListRecords(ctx context.Context, filter ListFilter) ([]domain.WorkflowRecord, error) {
	payload := map[string]any{}
	if value := strings.TrimSpace(filter.ClientID); value != "" {
		payload["client_id"] = value
	}
	if value := strings.TrimSpace(filter.CounterpartyID); value != "" {
		payload["counterparty_id"] = value
	}
	if value := strings.TrimSpace(filter.Stage); value != "" {
		payload["stage"] = value
	}
	if filter.RequiresReview != nil {
		payload["requires_review"] = *filter.RequiresReview
	}
	if filter.Limit > 0 {
		payload["limit"] = filter.Limit
	}
	request, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, err
	}

	response := &structpb.ListValue{}
	if err := c.invoke(ctx, rpccontract.MethodListRecords, request, response); err != nil {
		return nil, err
	}
	records := []domain.WorkflowRecord{}
	err = decode(response.AsSlice(), &records)
	return records, err
}

func (c *Client) Analyze(ctx context.Context, id string) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodAnalyze, idPayload(id))
}

func (c *Client) SubmitClarification(ctx context.Context, id string, answers map[string]string, skipped []string) (service.RecordView, error) {
	answerFields := make(map[string]any, len(answers))
	for key, value := range answers {
		answerFields[key] = value
	}
	skippedFields := make([]any, 0, len(skipped))
	for _, questionID := range skipped {
		skippedFields = append(skippedFields, questionID)
	}
	return c.recordCall(ctx, rpccontract.MethodSubmitClarification, map[string]any{
		"id":      strings.TrimSpace(id),
		"answers": answerFields,
		"skipped": skippedFields,
	})
}

func (c *Client) GenerateScope(ctx context.Context, id string) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodGenerateScope, idPayload(id))
}

func (c *Client) ApproveScope(ctx context.Context, id string, baseRateLamports int64) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodApproveScope, map[string]any{
		"id":                 strings.TrimSpace(id),
		"base_rate_lamports": baseRateLamports,
	})
}

func (c *Client) BeginEdit(ctx context.Context, id string) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodBeginEdit, idPayload(id))
}

type RequoteInput struct {
	ID               string
	RevisedHours     float64
	Urgency          string
	BaseRateLamports int64
}

func (c *Client) Requote(ctx context.Context, input RequoteInput) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodRequote, map[string]any{
		"id":                 strings.TrimSpace(input.ID),
		"revised_hours":      input.RevisedHours,
		"urgency":            strings.TrimSpace(input.Urgency),
		"base_rate_lamports": input.BaseRateLamports,
	})
}

func (c *Client) ConfirmQuote(ctx context.Context, id string) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodConfirmQuote, idPayload(id))
}

func (c *Client) MarkReviewed(ctx context.Context, id, note string) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodMarkReviewed, map[string]any{
		"id":   strings.TrimSpace(id),
		"note": strings.TrimSpace(note),
	})
}

// RecordFunding keys the call on the external reference so a retried
// notification replays instead of failing the stage check.
func (c *Client) RecordFunding(ctx context.Context, id, externalRef string) (service.RecordView, error) {
	ref := strings.TrimSpace(externalRef)
	payload := map[string]any{
		"id":           strings.TrimSpace(id),
		"external_ref": ref,
	}
	if ref != "" {
		payload["idempotency_key"] = "funding:" + strings.TrimSpace(id) + ":" + ref
	}
	return c.recordCall(ctx, rpccontract.MethodRecordFunding, payload)
}

func (c *Client) Cancel(ctx context.Context, id, reason string) (service.RecordView, error) {
	return c.recordCall(ctx, rpccontract.MethodCancelRecord, map[string]any{
		"id":     strings.TrimSpace(id),
		"reason": strings.TrimSpace(reason),
	})
}

func (c *Client) Archive(ctx context.Context, id string) error {
	_, err := c.invokeStruct(ctx, rpccontract.MethodArchiveRecord, idPayload(id))
	return err
}

func (c *Client) SweepExpired(ctx context.Context) (int, error) {
	response := &structpb.Struct{}
	if err := c.invoke(ctx, rpccontract.MethodSweepExpired, &emptypb.Empty{}, response); err != nil {
		return 0, err
	}
	return int(response.GetFields()["removed"].GetNumberValue()), nil
}

func (c *Client) recordCall(ctx context.Context, method string, payload map[string]any) (service.RecordView, error) {
	response, err := c.invokeStruct(ctx, method, payload)
	if err != nil {
		return service.RecordView{}, err
	}
	var view service.RecordView
	if err := decode(response, &view); err != nil {
		return service.RecordView{}, fmt.Errorf("decode %s response: %w", method, err)
	}
	return view, nil
}

func (c *Client) invokeStruct(ctx context.Context, method string, payload map[string]any) (map[string]any, error) {
	request, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, err
	}
	response := &structpb.Struct{}
	if err := c.invoke(ctx, method, request, response); err != nil {
		return nil, err
	}
	return response.AsMap(), nil
}

func (c *Client) invoke(ctx context.Context, method string, request, response proto.Message) error {
	attempts := c.retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTO)
		callCtx = c.withAuth(callCtx)

		invokeErr := c.conn.Invoke(callCtx, method, request, response)
		cancel()
		if invokeErr == nil {
			return nil
		}
		lastErr = invokeErr
		if !isRetryable(invokeErr) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
	return lastErr
}

func (c *Client) withAuth(ctx context.Context) context.Context {
	if c.token == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, rpccontract.TokenHeader, c.token)
}

func idPayload(id string) map[string]any {
	return map[string]any{"id": strings.TrimSpace(id)}
}

// decode reshapes a structpb value into a typed result through JSON.
func decode(value any, target any) error {
	serialized, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(serialized, target)
}

func isRetryable(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Describe turns an RPC error into a single line for terminal output.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	if st, ok := status.FromError(err); ok {
		return fmt.Sprintf("%s: %s", strings.ToLower(st.Code().String()), st.Message())
	}
	return err.Error()
}
