package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bcrosbie/quoteengine/internal/domain"
	"github.com/bcrosbie/quoteengine/internal/logger"
	"github.com/bcrosbie/quoteengine/internal/rpccontract"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

type Options struct {
	// Token guards mutating routes when set.
	Token       string
	ServiceName string
	Logger      *slog.Logger
	// MCP is mounted under /mcp when non-nil.
	MCP http.Handler
}

type handler struct {
	quotes *service.QuoteService
}

func NewHandler(quotes *service.QuoteService, opts Options) *echo.Echo {
	if opts.ServiceName == "" {
		opts.ServiceName = "quoteengine"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = problemHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
		RequestIDHandler: func(c echo.Context, requestID string) {
			ctx := logger.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(otelecho.Middleware(opts.ServiceName))
	e.Use(requestLogger(opts.Logger))

	h := &handler{quotes: quotes}
	write := requireToken(opts.Token)

	e.GET("/", dashboard)
	e.GET("/healthz", h.health)

	api := e.Group("/api/v1")
	api.GET("/summary", h.summary)
	api.GET("/records", h.listRecords)
	api.POST("/records", h.createRecord, write)
	api.GET("/records/:id", h.getRecord)
	api.DELETE("/records/:id", h.archiveRecord, write)
	api.POST("/records/:id/analyze", h.analyze, write)
	api.POST("/records/:id/extraction", h.advanceAfterExtraction, write)
	api.POST("/records/:id/clarification", h.submitClarification, write)
	api.POST("/records/:id/scope", h.generateScope, write)
	api.PUT("/records/:id/scope", h.advanceAfterScopeGeneration, write)
	api.POST("/records/:id/approve", h.approveScope, write)
	api.POST("/records/:id/edit", h.beginEdit, write)
	api.POST("/records/:id/requote", h.requote, write)
	api.POST("/records/:id/confirm", h.confirmQuote, write)
	api.POST("/records/:id/review", h.markReviewed, write)
	api.POST("/records/:id/funding", h.recordFunding, write)
	api.POST("/records/:id/cancel", h.cancel, write)
	api.POST("/sweep", h.sweepExpired, write)
	api.POST("/preview/complexity", h.scoreComplexity)
	api.POST("/preview/quote", h.previewQuote)
	api.POST("/preview/risk", h.assessRisk)

	if opts.MCP != nil {
		mcp := echo.WrapHandler(opts.MCP)
		e.Any("/mcp", mcp)
		e.Any("/mcp/*", mcp)
	}
	return e
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			log.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}

func requireToken(token string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if token == "" {
				return next(c)
			}
			request := c.Request()
			presented := strings.TrimSpace(request.Header.Get(rpccontract.TokenHeader))
			if presented == "" {
				const bearer = "Bearer "
				if auth := request.Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, bearer) {
					presented = strings.TrimSpace(strings.TrimPrefix(auth, bearer))
				}
			}
			if presented != token {
				return domain.Unauthenticated("invalid authentication token")
			}
			return next(c)
		}
	}
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, h.quotes.Health())
}

func (h *handler) summary(c echo.Context) error {
	return c.JSON(http.StatusOK, h.quotes.Summary())
}

func (h *handler) listRecords(c echo.Context) error {
	query := c.QueryParams()
	request := service.ListRecordsRequest{
		ClientID:       strings.TrimSpace(query.Get("client_id")),
		CounterpartyID: strings.TrimSpace(query.Get("counterparty_id")),
		Stage:          strings.TrimSpace(query.Get("stage")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return domain.InvalidArgument("limit must be an integer")
		}
		request.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("requires_review")); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.InvalidArgument("requires_review must be a boolean")
		}
		request.RequiresReview = &parsed
	}

	records, err := h.quotes.ListRecords(request)
	if err != nil {
		return err
	}
	views := make([]service.RecordView, 0, len(records))
	for _, record := range records {
		views = append(views, service.View(record))
	}
	return c.JSON(http.StatusOK, views)
}

func (h *handler) createRecord(c echo.Context) error {
	var request service.CreateRecordRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	record, err := h.quotes.CreateRecord(c.Request().Context(), request)
	return respondRecord(c, http.StatusCreated, record, err)
}

func (h *handler) getRecord(c echo.Context) error {
	record, err := h.quotes.GetRecord(service.RecordIDRequest{ID: c.Param("id")})
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) archiveRecord(c echo.Context) error {
	if err := h.quotes.ArchiveRecord(c.Request().Context(), service.RecordIDRequest{ID: c.Param("id")}); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handler) analyze(c echo.Context) error {
	record, err := h.quotes.Analyze(recordContext(c), service.RecordIDRequest{ID: c.Param("id")})
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) advanceAfterExtraction(c echo.Context) error {
	var request service.ExtractionRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	request.ID = c.Param("id")
	record, err := h.quotes.AdvanceAfterExtraction(recordContext(c), request)
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) submitClarification(c echo.Context) error {
	var request service.ClarificationRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	request.ID = c.Param("id")
	record, err := h.quotes.SubmitClarification(recordContext(c), request)
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) generateScope(c echo.Context) error {
	record, err := h.quotes.GenerateScope(recordContext(c), service.RecordIDRequest{ID: c.Param("id")})
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) advanceAfterScopeGeneration(c echo.Context) error {
	var request service.ScopeRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	request.ID = c.Param("id")
	record, err := h.quotes.AdvanceAfterScopeGeneration(recordContext(c), request)
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) approveScope(c echo.Context) error {
	var request service.ApproveScopeRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	request.ID = c.Param("id")
	record, err := h.quotes.ApproveScope(recordContext(c), request)
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) beginEdit(c echo.Context) error {
	record, err := h.quotes.BeginEdit(recordContext(c), service.RecordIDRequest{ID: c.Param("id")})
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) requote(c echo.Context) error {
	var request service.RequoteRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	request.ID = c.Param("id")
	record, err := h.quotes.Requote(recordContext(c), request)
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) confirmQuote(c echo.Context) error {
	record, err := h.quotes.ConfirmQuote(recordContext(c), service.RecordIDRequest{ID: c.Param("id")})
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) markReviewed(c echo.Context) error {
	var request service.ReviewRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	request.ID = c.Param("id")
	record, err := h.quotes.MarkReviewed(recordContext(c), request)
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) recordFunding(c echo.Context) error {
	var request service.FundingRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	request.ID = c.Param("id")
	record, err := h.quotes.RecordFunding(recordContext(c), request)
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) cancel(c echo.Context) error {
	var request service.CancelRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	request.ID = c.Param("id")
	record, err := h.quotes.Cancel(recordContext(c), request)
	return respondRecord(c, http.StatusOK, record, err)
}

func (h *handler) sweepExpired(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"removed": h.quotes.SweepExpired(c.Request().Context())})
}

func (h *handler) scoreComplexity(c echo.Context) error {
	var inputs domain.ComplexityInputs
	if err := bindBody(c, &inputs); err != nil {
		return err
	}
	result, err := h.quotes.ScoreComplexity(inputs)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *handler) previewQuote(c echo.Context) error {
	var input domain.PricingInput
	if err := bindBody(c, &input); err != nil {
		return err
	}
	result, err := h.quotes.PreviewQuote(input)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (h *handler) assessRisk(c echo.Context) error {
	var request service.AssessRiskRequest
	if err := bindBody(c, &request); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.quotes.AssessRisk(request))
}

func bindBody(c echo.Context, target any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, target); err != nil {
		return domain.InvalidArgument("request body is not valid JSON for this route")
	}
	return nil
}

func recordContext(c echo.Context) context.Context {
	return logger.WithRecordID(c.Request().Context(), c.Param("id"))
}

func respondRecord(c echo.Context, code int, record domain.WorkflowRecord, err error) error {
	if err != nil {
		return err
	}
	return c.JSON(code, service.View(record))
}
