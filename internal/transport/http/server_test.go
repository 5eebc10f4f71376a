package httpx

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bcrosbie/quoteengine/internal/rpccontract"
	"github.com/bcrosbie/quoteengine/internal/service"
	"github.com/bcrosbie/quoteengine/internal/store"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

func newTestHandler(t *testing.T) *echo.Echo {
	t.Helper()
	records := store.NewRecordStore(store.NewMemoryBackend(), store.Options{FlushDebounce: time.Hour})
	t.Cleanup(func() { _ = records.Close() })
	quotes := service.NewQuoteService(service.Dependencies{Store: records, StoreDriver: "memory"})
	return NewHandler(quotes, Options{
		Token:  testToken,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func do(t *testing.T, e *echo.Echo, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, path, reader)
	if body != "" {
		request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if authed {
		request.Header.Set(rpccontract.TokenHeader, testToken)
	}
	recorder := httptest.NewRecorder()
	e.ServeHTTP(recorder, request)
	return recorder
}

func decodeView(t *testing.T, recorder *httptest.ResponseRecorder) service.RecordView {
	t.Helper()
	var view service.RecordView
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &view), recorder.Body.String())
	return view
}

func decodeProblem(t *testing.T, recorder *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, problemContentType, recorder.Header().Get(echo.HeaderContentType))
	var problem Problem
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &problem), recorder.Body.String())
	return problem
}

func TestHealthz(t *testing.T) {
	e := newTestHandler(t)
	recorder := do(t, e, http.MethodGet, "/healthz", "", false)
	require.Equal(t, http.StatusOK, recorder.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, recorder.Header().Get(echo.HeaderXRequestID))
}

func TestRecordLifecycleOverHTTP(t *testing.T) {
	e := newTestHandler(t)

	created := do(t, e, http.MethodPost, "/api/v1/records",
		`{"title":"Marketing site","brief":"Five page marketing website with a contact form, React, launch in 8 weeks.","client_id":"client-1"}`, true)
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	id := decodeView(t, created).Record.ID

	analyzed := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/analyze", "", true)
	require.Equal(t, http.StatusOK, analyzed.Code, analyzed.Body.String())
	view := decodeView(t, analyzed)
	if view.Record.CurrentStage == "clarify_pending" {
		skipped := []string{}
		for _, question := range view.Record.Extraction.OpenQuestions {
			skipped = append(skipped, question.ID)
		}
		payload, err := json.Marshal(map[string]any{"skipped": skipped})
		require.NoError(t, err)
		clarified := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/clarification", string(payload), true)
		require.Equal(t, http.StatusOK, clarified.Code, clarified.Body.String())
	}

	scoped := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/scope", "", true)
	require.Equal(t, http.StatusOK, scoped.Code, scoped.Body.String())
	assert.Equal(t, "scope_ready", string(decodeView(t, scoped).Record.CurrentStage))

	approved := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/approve", `{"base_rate_lamports":50000000}`, true)
	require.Equal(t, http.StatusOK, approved.Code, approved.Body.String())
	quoted := decodeView(t, approved)
	require.NotNil(t, quoted.Record.Pricing)
	assert.Positive(t, quoted.Record.Pricing.TotalLamports)

	confirmed := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/confirm", "", true)
	require.Equal(t, http.StatusOK, confirmed.Code, confirmed.Body.String())

	funded := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/funding", `{"external_ref":"escrow-42"}`, true)
	require.Equal(t, http.StatusOK, funded.Code, funded.Body.String())
	record := decodeView(t, funded).Record
	assert.Equal(t, "funded", string(record.CurrentStage))
	assert.Equal(t, "escrow-42", record.FundingRef)
	assert.Empty(t, decodeView(t, funded).NextActions)

	listed := do(t, e, http.MethodGet, "/api/v1/records?client_id=client-1&stage=funded", "", false)
	require.Equal(t, http.StatusOK, listed.Code)
	var views []service.RecordView
	require.NoError(t, json.Unmarshal(listed.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, id, views[0].Record.ID)
}

func TestWritesRequireToken(t *testing.T) {
	e := newTestHandler(t)
	recorder := do(t, e, http.MethodPost, "/api/v1/records", `{"title":"t","brief":"b"}`, false)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)
	assert.Equal(t, "unauthenticated", decodeProblem(t, recorder).Code)

	request := httptest.NewRequest(http.MethodPost, "/api/v1/records", strings.NewReader(`{"title":"t","brief":"b"}`))
	request.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	request.Header.Set(echo.HeaderAuthorization, "Bearer "+testToken)
	bearer := httptest.NewRecorder()
	e.ServeHTTP(bearer, request)
	assert.Equal(t, http.StatusCreated, bearer.Code, bearer.Body.String())
}

func TestProblemResponses(t *testing.T) {
	e := newTestHandler(t)

	missing := do(t, e, http.MethodGet, "/api/v1/records/nope", "", false)
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, "not_found", decodeProblem(t, missing).Code)

	created := do(t, e, http.MethodPost, "/api/v1/records", `{"title":"t","brief":"a short brief"}`, true)
	require.Equal(t, http.StatusCreated, created.Code)
	id := decodeView(t, created).Record.ID

	transition := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/confirm", "", true)
	assert.Equal(t, http.StatusConflict, transition.Code)
	problem := decodeProblem(t, transition)
	assert.Equal(t, "invalid_transition", problem.Code)
	assert.Equal(t, "/api/v1/records/"+id+"/confirm", problem.Instance)
	assert.Contains(t, problem.Details, "allowed")

	badJSON := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/approve", `{"base_rate_lamports":`, true)
	assert.Equal(t, http.StatusBadRequest, badJSON.Code)

	badLimit := do(t, e, http.MethodGet, "/api/v1/records?limit=abc", "", false)
	assert.Equal(t, http.StatusBadRequest, badLimit.Code)

	unknown := do(t, e, http.MethodGet, "/api/v1/nothing-here", "", false)
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestCancelThenArchive(t *testing.T) {
	e := newTestHandler(t)
	created := do(t, e, http.MethodPost, "/api/v1/records", `{"title":"t","brief":"a short brief"}`, true)
	require.Equal(t, http.StatusCreated, created.Code)
	id := decodeView(t, created).Record.ID

	early := do(t, e, http.MethodDelete, "/api/v1/records/"+id, "", true)
	assert.Equal(t, http.StatusPreconditionFailed, early.Code)

	cancelled := do(t, e, http.MethodPost, "/api/v1/records/"+id+"/cancel", `{"reason":"client withdrew"}`, true)
	require.Equal(t, http.StatusOK, cancelled.Code, cancelled.Body.String())
	assert.Equal(t, "client withdrew", decodeView(t, cancelled).Record.CancelReason)

	archived := do(t, e, http.MethodDelete, "/api/v1/records/"+id, "", true)
	assert.Equal(t, http.StatusNoContent, archived.Code)

	gone := do(t, e, http.MethodGet, "/api/v1/records/"+id, "", false)
	assert.Equal(t, http.StatusNotFound, gone.Code)
}

func TestPreviewRoutesAreOpen(t *testing.T) {
	e := newTestHandler(t)

	quote := do(t, e, http.MethodPost, "/api/v1/preview/quote",
		`{"complexity_score":50,"estimated_hours":100,"base_rate_lamports":50000000,"confidence":0.8}`, false)
	require.Equal(t, http.StatusOK, quote.Code, quote.Body.String())
	var priced map[string]any
	require.NoError(t, json.Unmarshal(quote.Body.Bytes(), &priced))
	assert.Greater(t, priced["total_lamports"].(float64), 0.0)

	invalid := do(t, e, http.MethodPost, "/api/v1/preview/quote",
		`{"complexity_score":50,"estimated_hours":-1,"base_rate_lamports":50000000,"confidence":0.8}`, false)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	risky := do(t, e, http.MethodPost, "/api/v1/preview/risk", `{"scope_text":"Online casino with betting"}`, false)
	require.Equal(t, http.StatusOK, risky.Code)
	var assessment map[string]any
	require.NoError(t, json.Unmarshal(risky.Body.Bytes(), &assessment))
	assert.Equal(t, true, assessment["requires_human_review"])
}

func TestDashboardServesHTML(t *testing.T) {
	e := newTestHandler(t)
	recorder := do(t, e, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "Quote Engine")
}
