package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hasanmaki/mkit-idv-next/internal/config"
	"github.com/hasanmaki/mkit-idv-next/internal/domain"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/memreg"
	"github.com/hasanmaki/mkit-idv-next/internal/infra/memstore"
	"github.com/hasanmaki/mkit-idv-next/internal/orchestrator"
	"github.com/hasanmaki/mkit-idv-next/internal/otp"
)

type fixture struct {
	server   *Server
	registry *memreg.Registry
	store    *memstore.Store
}

func newFixture() *fixture {
	registry := memreg.New()
	store := memstore.New()
	mailbox := otp.NewMemMailbox()
	control := orchestrator.NewControl(registry)
	defaults := config.Orchestration{WorkerIntervalMsDefault: 800}
	return &fixture{
		server:   NewServer(control, mailbox, store, registry, defaults),
		registry: registry,
		store:    store,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestStartEndpoint(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/orchestration/start", map[string]any{
		"binding_ids": []string{"b1"},
		"product_id":  "650",
		"email":       "user@example.com",
		"limit_harga": 100000,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp controlResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "start", resp.Action)
	require.Len(t, resp.Items, 1)
	assert.True(t, resp.Items[0].OK)

	state, err := f.registry.GetState(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, state.State)

	// Defaults filled from environment configuration.
	cfg, err := f.registry.GetConfig(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 800, cfg.IntervalMs)
}

func TestStartEndpointRequiresBindingIDs(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/orchestration/start", map[string]any{
		"product_id": "650",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPauseResumeStopFlow(t *testing.T) {
	f := newFixture()
	f.do(t, http.MethodPost, "/v1/orchestration/start", map[string]any{
		"binding_ids": []string{"b1"},
		"product_id":  "650",
		"email":       "user@example.com",
		"limit_harga": 100000,
	})

	rec := f.do(t, http.MethodPost, "/v1/orchestration/pause", map[string]any{
		"binding_ids": []string{"b1"},
		"reason":      "operator",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	state, _ := f.registry.GetState(context.Background(), "b1")
	assert.Equal(t, domain.StatePaused, state.State)

	rec = f.do(t, http.MethodPost, "/v1/orchestration/resume", map[string]any{
		"binding_ids": []string{"b1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	state, _ = f.registry.GetState(context.Background(), "b1")
	assert.Equal(t, domain.StateRunning, state.State)

	rec = f.do(t, http.MethodPost, "/v1/orchestration/stop", map[string]any{
		"binding_ids": []string{"b1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	state, _ = f.registry.GetState(context.Background(), "b1")
	assert.Equal(t, domain.StateStopped, state.State)
}

func TestStatusEndpoint(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/orchestration/status", map[string]any{
		"binding_ids": []string{"unknown"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, domain.StateIdle, resp.Items[0].State)
}

func TestMonitorEndpoint(t *testing.T) {
	f := newFixture()
	f.do(t, http.MethodPost, "/v1/orchestration/start", map[string]any{
		"binding_ids": []string{"b1", "b2"},
		"product_id":  "650",
		"email":       "user@example.com",
		"limit_harga": 100000,
	})

	rec := f.do(t, http.MethodGet, "/v1/orchestration/monitor", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp orchestrator.MonitorResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalWorkers)
	assert.Equal(t, 0, resp.ActiveWorkers, "no live locks yet")
}

func TestOtpIngress(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/v1/orchestration/otp", map[string]any{
		"binding_id": "b1",
		"otp":        "123456",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp otpResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)

	// Second OTP while one is pending is rejected.
	rec = f.do(t, http.MethodPost, "/v1/orchestration/otp", map[string]any{
		"binding_id": "b1",
		"otp":        "999999",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Accepted)
	assert.Equal(t, "otp_already_pending", resp.Reason)
}

func TestListTransactions(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.store.UpsertTransaction(ctx, domain.Transaction{
		BindingID: "b1", TrxID: "t1", ProductID: "650", Status: domain.TrxSukses,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, f.store.UpsertTransaction(ctx, domain.Transaction{
		BindingID: "b2", TrxID: "t2", ProductID: "650", Status: domain.TrxGagal,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))

	rec := f.do(t, http.MethodGet, "/v1/transactions?binding_id=b1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []domain.Transaction `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "t1", resp.Items[0].TrxID)
}

func TestHealthz(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
