package grpcx

import (
	"context"
	"encoding/json"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/rpccontract"
	"github.com/bcrosbie/quoteengine/internal/service"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type QuoteRPCServer interface {
	GetHealth(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	CreateRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRecords(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	Analyze(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdvanceAfterExtraction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitClarification(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateScope(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AdvanceAfterScopeGeneration(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveScope(context.Context, *structpb.Struct) (*structpb.Struct, error)
	BeginEdit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Requote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmQuote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkReviewed(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordFunding(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ArchiveRecord(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SweepExpired(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ScoreComplexity(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PreviewQuote(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AssessRisk(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type QuoteHandler struct {
	quotes *service.QuoteService
}

func NewQuoteHandler(quotes *service.QuoteService) *QuoteHandler {
	return &QuoteHandler{quotes: quotes}
}

func RegisterQuoteServer(server *grpc.Server, handler QuoteRPCServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: rpccontract.ServiceName,
		HandlerType: (*QuoteRPCServer)(nil),
		Methods: []grpc.MethodDesc{
			unaryMethod("GetHealth", newEmpty, QuoteRPCServer.GetHealth),
			unaryMethod("GetSummary", newEmpty, QuoteRPCServer.GetSummary),
			unaryMethod("CreateRecord", newStruct, QuoteRPCServer.CreateRecord),
			unaryMethod("GetRecord", newStruct, QuoteRPCServer.GetRecord),
			unaryMethod("ListRecords", newStruct, QuoteRPCServer.ListRecords),
			unaryMethod("Analyze", newStruct, QuoteRPCServer.Analyze),
			unaryMethod("AdvanceAfterExtraction", newStruct, QuoteRPCServer.AdvanceAfterExtraction),
			unaryMethod("SubmitClarification", newStruct, QuoteRPCServer.SubmitClarification),
			unaryMethod("GenerateScope", newStruct, QuoteRPCServer.GenerateScope),
			unaryMethod("AdvanceAfterScopeGeneration", newStruct, QuoteRPCServer.AdvanceAfterScopeGeneration),
			unaryMethod("ApproveScope", newStruct, QuoteRPCServer.ApproveScope),
			unaryMethod("BeginEdit", newStruct, QuoteRPCServer.BeginEdit),
			unaryMethod("Requote", newStruct, QuoteRPCServer.Requote),
			unaryMethod("ConfirmQuote", newStruct, QuoteRPCServer.ConfirmQuote),
			unaryMethod("MarkReviewed", newStruct, QuoteRPCServer.MarkReviewed),
			unaryMethod("RecordFunding", newStruct, QuoteRPCServer.RecordFunding),
			unaryMethod("CancelRecord", newStruct, QuoteRPCServer.CancelRecord),
			unaryMethod("ArchiveRecord", newStruct, QuoteRPCServer.ArchiveRecord),
			unaryMethod("SweepExpired", newEmpty, QuoteRPCServer.SweepExpired),
			unaryMethod("ScoreComplexity", newStruct, QuoteRPCServer.ScoreComplexity),
			unaryMethod("PreviewQuote", newStruct, QuoteRPCServer.PreviewQuote),
			unaryMethod("AssessRisk", newStruct, QuoteRPCServer.AssessRisk),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "proto/quoteengine/v1/quote.proto",
	}, handler)
}

func (h *QuoteHandler) GetHealth(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(h.quotes.Health())
}

func (h *QuoteHandler) GetSummary(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(h.quotes.Summary())
}

func (h *QuoteHandler) CreateRecord(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.CreateRecord)
}

func (h *QuoteHandler) GetRecord(_ context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.RecordIDRequest](request)
	if err != nil {
		return nil, err
	}
	record, err := h.quotes.GetRecord(decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(service.View(record))
}

func (h *QuoteHandler) ListRecords(_ context.Context, request *structpb.Struct) (*structpb.ListValue, error) {
	decoded, err := decodeStruct[service.ListRecordsRequest](request)
	if err != nil {
		return nil, err
	}
	records, err := h.quotes.ListRecords(decoded)
	if err != nil {
		return nil, err
	}
	return toList(records)
}

func (h *QuoteHandler) Analyze(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.Analyze)
}

func (h *QuoteHandler) AdvanceAfterExtraction(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.AdvanceAfterExtraction)
}

func (h *QuoteHandler) SubmitClarification(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.SubmitClarification)
}

func (h *QuoteHandler) GenerateScope(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.GenerateScope)
}

func (h *QuoteHandler) AdvanceAfterScopeGeneration(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.AdvanceAfterScopeGeneration)
}

func (h *QuoteHandler) ApproveScope(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.ApproveScope)
}

func (h *QuoteHandler) BeginEdit(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.BeginEdit)
}

func (h *QuoteHandler) Requote(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.Requote)
}

func (h *QuoteHandler) ConfirmQuote(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.ConfirmQuote)
}

func (h *QuoteHandler) MarkReviewed(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.MarkReviewed)
}

func (h *QuoteHandler) RecordFunding(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.RecordFunding)
}

func (h *QuoteHandler) CancelRecord(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	return recordCall(ctx, request, h.quotes.Cancel)
}

func (h *QuoteHandler) ArchiveRecord(ctx context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.RecordIDRequest](request)
	if err != nil {
		return nil, err
	}
	if err := h.quotes.ArchiveRecord(ctx, decoded); err != nil {
		return nil, err
	}
	return toStruct(map[string]any{"ok": true})
}

func (h *QuoteHandler) SweepExpired(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(map[string]any{"removed": h.quotes.SweepExpired(ctx)})
}

func (h *QuoteHandler) ScoreComplexity(_ context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[domain.ComplexityInputs](request)
	if err != nil {
		return nil, err
	}
	result, err := h.quotes.ScoreComplexity(decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func (h *QuoteHandler) PreviewQuote(_ context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[domain.PricingInput](request)
	if err != nil {
		return nil, err
	}
	result, err := h.quotes.PreviewQuote(decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(result)
}

func (h *QuoteHandler) AssessRisk(_ context.Context, request *structpb.Struct) (*structpb.Struct, error) {
	decoded, err := decodeStruct[service.AssessRiskRequest](request)
	if err != nil {
		return nil, err
	}
	return toStruct(h.quotes.AssessRisk(decoded))
}

// recordCall decodes a request, runs a record operation and renders the
// result with its next actions.
func recordCall[T any](ctx context.Context, request *structpb.Struct, call func(context.Context, T) (domain.WorkflowRecord, error)) (*structpb.Struct, error) {
	decoded, err := decodeStruct[T](request)
	if err != nil {
		return nil, err
	}
	record, err := call(ctx, decoded)
	if err != nil {
		return nil, err
	}
	return toStruct(service.View(record))
}

func toStruct(value any) (*structpb.Struct, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, domain.Internal("failed to encode response", err)
	}

	decoded := map[string]any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, domain.Internal("failed to shape response object", err)
	}
	result, err := structpb.NewStruct(decoded)
	if err != nil {
		return nil, domain.Internal("failed to convert response to protobuf struct", err)
	}
	return result, nil
}

func toList(value any) (*structpb.ListValue, error) {
	serialized, err := json.Marshal(value)
	if err != nil {
		return nil, domain.Internal("failed to encode response list", err)
	}

	decoded := []any{}
	if err := json.Unmarshal(serialized, &decoded); err != nil {
		return nil, domain.Internal("failed to shape response list", err)
	}
	result, err := structpb.NewList(decoded)
	if err != nil {
		return nil, domain.Internal("failed to convert response to protobuf list", err)
	}
	return result, nil
}

func decodeStruct[T any](input *structpb.Struct) (T, error) {
	var out T
	serialized, err := json.Marshal(input.AsMap())
	if err != nil {
		return out, domain.InvalidArgument("request payload could not be encoded")
	}
	if err := json.Unmarshal(serialized, &out); err != nil {
		return out, domain.InvalidArgument("request payload shape is invalid")
	}
	return out, nil
}

func newEmpty() *emptypb.Empty {
	return new(emptypb.Empty)
}

func newStruct() *structpb.Struct {
	return new(structpb.Struct)
}

// unaryMethod builds the method descriptor protoc would generate for a
// unary call.
func unaryMethod[Req, Resp proto.Message](
	name string,
	newRequest func() Req,
	call func(QuoteRPCServer, context.Context, Req) (Resp, error),
) grpc.MethodDesc {
	fullMethod := "/" + rpccontract.ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(
			srv any,
			ctx context.Context,
			decoder func(any) error,
			interceptor grpc.UnaryServerInterceptor,
		) (any, error) {
			request := newRequest()
			if err := decoder(request); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(QuoteRPCServer), ctx, request)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(QuoteRPCServer), ctx, req.(Req))
			}
			return interceptor(ctx, request, info, handler)
		},
	}
}
