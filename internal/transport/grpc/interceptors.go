package grpcx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/logger"
	"github.com/bcrosbie/quoteengine/internal/rpccontract"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	requestIDHeader      = "x-request-id"
	idempotencyKeyField  = "idempotency_key"
	idempotencyKeyHeader = "x-idempotency-key"
)

func RecoveryUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (response any, err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.Error(ctx, "panic recovered",
					"method", info.FullMethod,
					"panic", recovered,
					"stack", string(debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

func AuthUnaryInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if token == "" {
			return handler(ctx, req)
		}
		if _, isWriteMethod := rpccontract.WriteMethods[info.FullMethod]; !isWriteMethod {
			return handler(ctx, req)
		}

		if extractToken(ctx) != token {
			return nil, status.Error(codes.Unauthenticated, "invalid authentication token")
		}
		return handler(ctx, req)
	}
}

// LoggingUnaryInterceptor tags the context with a request id, reusing the
// caller's x-request-id when present.
func LoggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		requestID := strings.TrimSpace(first(incoming(ctx, requestIDHeader)))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = logger.WithRequestID(ctx, requestID)
		ctx = logger.WithMethod(ctx, info.FullMethod)
		if request, ok := req.(*structpb.Struct); ok {
			if id, ok := request.GetFields()["id"]; ok && id.GetStringValue() != "" {
				ctx = logger.WithRecordID(ctx, id.GetStringValue())
			}
		}

		started := time.Now()
		response, err := handler(ctx, req)
		code := codes.OK
		if err != nil {
			code = statusCode(err)
		}
		if code == codes.Internal || code == codes.Unknown {
			logger.Error(ctx, "grpc request failed", "duration", time.Since(started), "code", code.String(), "error", err)
		} else {
			logger.Info(ctx, "grpc request", "duration", time.Since(started), "code", code.String())
		}
		return response, err
	}
}

// IdempotencyUnaryInterceptor replays the stored response when an idempotent
// method is called again with the same key and payload.
func IdempotencyUnaryInterceptor(keys IdempotencyStore) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if keys == nil {
			return handler(ctx, req)
		}
		if _, ok := rpccontract.IdempotentMethods[info.FullMethod]; !ok {
			return handler(ctx, req)
		}
		request, ok := req.(*structpb.Struct)
		if !ok {
			return handler(ctx, req)
		}

		key := idempotencyKey(ctx, request)
		if key == "" {
			return handler(ctx, req)
		}
		hash, err := requestHash(request)
		if err != nil {
			return nil, err
		}

		existing, reserved, err := keys.Reserve(info.FullMethod, key, hash)
		if err != nil {
			return nil, err
		}
		if !reserved {
			if existing.RequestHash != hash {
				return nil, domain.Conflict("idempotency key was already used with a different payload")
			}
			if !existing.Completed {
				return nil, domain.Conflict("a request with this idempotency key is still in flight")
			}
			replay := &structpb.Struct{}
			if err := protojson.Unmarshal([]byte(existing.ResponseJSON), replay); err != nil {
				return nil, domain.Internal("stored idempotent response is unreadable", err)
			}
			logger.Info(ctx, "idempotent replay", "method", info.FullMethod)
			return replay, nil
		}

		response, err := handler(ctx, req)
		if err != nil {
			if releaseErr := keys.Release(info.FullMethod, key); releaseErr != nil {
				logger.Warn(ctx, "failed to release idempotency key", "error", releaseErr)
			}
			return nil, err
		}
		if message, ok := response.(*structpb.Struct); ok {
			serialized, marshalErr := protojson.Marshal(message)
			if marshalErr == nil {
				marshalErr = keys.Complete(info.FullMethod, key, string(serialized))
			}
			if marshalErr != nil {
				logger.Warn(ctx, "failed to store idempotent response", "error", marshalErr)
			}
		}
		return response, nil
	}
}

func ErrorUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		response, err := handler(ctx, req)
		if err == nil {
			return response, nil
		}
		if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
			return nil, err
		}
		return nil, mapError(err)
	}
}

func mapError(err error) error {
	var appError *domain.AppError
	if errors.As(err, &appError) {
		return status.Error(codeFor(appError.Code), appError.Message)
	}
	return status.Error(codes.Internal, "internal server error")
}

func codeFor(code domain.ErrorCode) codes.Code {
	switch code {
	case domain.CodeInvalidArgument:
		return codes.InvalidArgument
	case domain.CodeNotFound:
		return codes.NotFound
	case domain.CodeConflict:
		return codes.AlreadyExists
	case domain.CodeUnauthenticated:
		return codes.Unauthenticated
	case domain.CodeInvalidTransition, domain.CodeQuoteExpired, domain.CodeFailedPrecondition:
		return codes.FailedPrecondition
	case domain.CodeUpstreamFailure:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// statusCode reports the code a caller will see for err once the error
// interceptor has run.
func statusCode(err error) codes.Code {
	if appError, ok := domain.AsAppError(err); ok {
		return codeFor(appError.Code)
	}
	return status.Code(err)
}

func extractToken(ctx context.Context) string {
	token := strings.TrimSpace(first(incoming(ctx, rpccontract.TokenHeader)))
	if token != "" {
		return token
	}

	authHeader := strings.TrimSpace(first(incoming(ctx, "authorization")))
	const bearer = "Bearer "
	if strings.HasPrefix(authHeader, bearer) {
		return strings.TrimSpace(strings.TrimPrefix(authHeader, bearer))
	}
	return ""
}

func idempotencyKey(ctx context.Context, request *structpb.Struct) string {
	if value, ok := request.GetFields()[idempotencyKeyField]; ok {
		if key := strings.TrimSpace(value.GetStringValue()); key != "" {
			return key
		}
	}
	return strings.TrimSpace(first(incoming(ctx, idempotencyKeyHeader)))
}

// requestHash fingerprints the payload without its idempotency key.
func requestHash(request *structpb.Struct) (string, error) {
	fields := request.AsMap()
	delete(fields, idempotencyKeyField)
	serialized, err := json.Marshal(fields)
	if err != nil {
		return "", domain.InvalidArgument("request payload could not be fingerprinted")
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:]), nil
}

func incoming(ctx context.Context, key string) []string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}
	return md.Get(key)
}

func first(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}
