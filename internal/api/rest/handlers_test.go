package rest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strataline/callflow-backend/internal/domain/call"
	"github.com/strataline/callflow-backend/internal/infrastructure/config"
)

const testSecret = "test-webhook-secret"

// fakeProvider stands in for the voice provider's REST API.
func fakeProvider(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/calls":
			writeJSON(w, http.StatusCreated, map[string]string{"id": "corr-dialed-1"})
		case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/v1/calls/"):
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(providerURL string) *config.Config {
	return &config.Config{
		Version:     "test",
		Environment: "development",
		Server: config.ServerConfig{
			Port:            0,
			ShutdownTimeout: time.Second,
		},
		Webhook: config.WebhookConfig{
			Secret:            testSecret,
			RequestsPerSecond: 1000,
			Burst:             1000,
		},
		Provider: config.ProviderConfig{
			Name:       "vapi",
			BaseURL:    providerURL,
			FromNumber: "+15550000100",
			Timeout:    2 * time.Second,
		},
		Reconciliation: config.ReconciliationConfig{
			RequireExistingRecords: true,
			LockTTL:                10 * time.Second,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(cfg, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)
	t.Cleanup(cancel)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/webhooks/voice", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sign([]byte(body)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestWebhook_CallLifecycle(t *testing.T) {
	srv := newTestServer(t, testConfig(fakeProvider(t).URL))

	resp := postWebhook(t, srv, `{"type":"incoming","correlationId":"corr-1","from":"+15550000002","to":"+15550000001"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	accepted := decodeBody[webhookResponse](t, resp)
	assert.Equal(t, "ok", accepted.Status)
	assert.Equal(t, "created", accepted.Outcome)
	callID := accepted.CallID

	resp = postWebhook(t, srv, `{"type":"status-update","correlationId":"corr-1","status":"in-progress"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "updated", decodeBody[webhookResponse](t, resp).Outcome)

	resp = postWebhook(t, srv, `{"type":"call.ended","correlationId":"corr-1","durationSeconds":93}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "updated", decodeBody[webhookResponse](t, resp).Outcome)

	// At-least-once redelivery acknowledges without changing anything.
	resp = postWebhook(t, srv, `{"type":"call.ended","correlationId":"corr-1","durationSeconds":93}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "noop", decodeBody[webhookResponse](t, resp).Outcome)

	// Analysis artifacts land after the terminal transition.
	resp = postWebhook(t, srv, `{"type":"call.analyzed","correlationId":"corr-1","recordingUrl":"https://cdn.example.com/r1.mp3","durationSeconds":95,"summary":"asked about pricing"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "updated", decodeBody[webhookResponse](t, resp).Outcome)

	getResp, err := http.Get(srv.URL + "/api/v1/calls/" + callID.String())
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	rec := decodeBody[call.Call](t, getResp)
	assert.Equal(t, call.StatusCompleted, rec.Status)
	assert.Equal(t, 95, rec.DurationSeconds)
	require.NotNil(t, rec.RecordingURL)
	assert.Equal(t, []string{"asked about pricing"}, rec.Notes)
}

func TestWebhook_Rejections(t *testing.T) {
	srv := newTestServer(t, testConfig(fakeProvider(t).URL))

	tests := []struct {
		name      string
		body      string
		signature string
		status    int
		code      string
	}{
		{
			"bad signature",
			`{"type":"incoming","correlationId":"corr-1"}`,
			"sha256=deadbeef",
			http.StatusUnauthorized,
			"UNAUTHENTICATED",
		},
		{
			"missing signature",
			`{"type":"incoming","correlationId":"corr-1"}`,
			"",
			http.StatusUnauthorized,
			"UNAUTHENTICATED",
		},
		{
			"unsupported type",
			`{"type":"call.transferred","correlationId":"corr-1"}`,
			"valid",
			http.StatusBadRequest,
			"UNSUPPORTED_EVENT_TYPE",
		},
		{
			"malformed body",
			`not json at all`,
			"valid",
			http.StatusBadRequest,
			"MALFORMED_EVENT",
		},
		{
			"unknown record",
			`{"type":"status-update","correlationId":"corr-nope","status":"in-progress"}`,
			"valid",
			http.StatusNotFound,
			"RESOURCE_NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/webhooks/voice", strings.NewReader(tt.body))
			require.NoError(t, err)
			if tt.signature == "valid" {
				req.Header.Set(SignatureHeader, sign([]byte(tt.body)))
			} else if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			body := decodeBody[errorBody](t, resp)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestDialAndEndCall(t *testing.T) {
	srv := newTestServer(t, testConfig(fakeProvider(t).URL))

	resp, err := http.Post(srv.URL+"/api/v1/calls", "application/json",
		bytes.NewReader([]byte(`{"to":"+15550000042"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec := decodeBody[call.Call](t, resp)
	assert.Equal(t, call.StatusInitiated, rec.Status)
	assert.Equal(t, "corr-dialed-1", rec.CorrelationID)

	// Provider confirms ringing, then the operator hangs up.
	postWebhook(t, srv, `{"type":"status-update","correlationId":"corr-dialed-1","status":"ringing"}`)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/calls/"+rec.ID.String(), nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	require.Equal(t, http.StatusOK, delResp.StatusCode)
	ended := decodeBody[call.Call](t, delResp)
	assert.Equal(t, call.StatusCompleted, ended.Status)

	// A second hang-up is rejected as a business rule, not a crash.
	req2, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/calls/"+rec.ID.String(), nil)
	require.NoError(t, err)
	delResp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	defer delResp2.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, delResp2.StatusCode)
}

func TestAddNoteEndpoint(t *testing.T) {
	srv := newTestServer(t, testConfig(fakeProvider(t).URL))

	resp := postWebhook(t, srv, `{"type":"incoming","correlationId":"corr-1","from":"+15550000002"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	callID := decodeBody[webhookResponse](t, resp).CallID

	req, err := http.NewRequest(http.MethodPatch,
		srv.URL+"/api/v1/calls/"+callID.String()+"/notes",
		strings.NewReader(`{"note":"customer will call back"}`))
	require.NoError(t, err)
	patchResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer patchResp.Body.Close()
	require.Equal(t, http.StatusOK, patchResp.StatusCode)
	rec := decodeBody[call.Call](t, patchResp)
	assert.Equal(t, []string{"customer will call back"}, rec.Notes)
}

func TestCallQueries(t *testing.T) {
	srv := newTestServer(t, testConfig(fakeProvider(t).URL))

	postWebhook(t, srv, `{"type":"incoming","correlationId":"corr-1","from":"+15550000002"}`)
	postWebhook(t, srv, `{"type":"incoming","correlationId":"corr-2","from":"+15550000003"}`)

	resp, err := http.Get(srv.URL + "/api/v1/calls")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeBody[listCallsResponse](t, resp)
	assert.Equal(t, 2, list.Count)

	missing, err := http.Get(srv.URL + "/api/v1/calls/b2f6a7de-8d4e-4a0f-9f3e-0c5d9b1c2a3d")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)

	invalid, err := http.Get(srv.URL + "/api/v1/calls/not-a-uuid")
	require.NoError(t, err)
	defer invalid.Body.Close()
	assert.Equal(t, http.StatusBadRequest, invalid.StatusCode)
}

func TestOperationalEndpoints(t *testing.T) {
	srv := newTestServer(t, testConfig(fakeProvider(t).URL))

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	metricsResp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	assert.Equal(t, http.StatusOK, metricsResp.StatusCode)
	body, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "callflow_ingestion_events_received_total")
}

func TestWebhookRateLimit(t *testing.T) {
	cfg := testConfig(fakeProvider(t).URL)
	cfg.Webhook.RequestsPerSecond = 1
	cfg.Webhook.Burst = 1
	srv := newTestServer(t, cfg)

	statuses := make(map[int]int)
	for i := 0; i < 5; i++ {
		body := fmt.Sprintf(`{"type":"incoming","correlationId":"corr-%d"}`, i)
		resp := postWebhook(t, srv, body)
		statuses[resp.StatusCode]++
	}
	assert.Positive(t, statuses[http.StatusOK])
	assert.Positive(t, statuses[http.StatusTooManyRequests], "burst past the limit must be throttled")
}

func TestObserverReceivesLiveNotifications(t *testing.T) {
	srv := newTestServer(t, testConfig(fakeProvider(t).URL))

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration races the first broadcast; poll until the observer is in.
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return strings.Contains(string(body), "callflow_hub_observers_active 1")
	}, 2*time.Second, 20*time.Millisecond)

	postWebhook(t, srv, `{"type":"incoming","correlationId":"corr-1","from":"+15550000002"}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var notification struct {
		Type string     `json:"type"`
		Call *call.Call `json:"call"`
	}
	require.NoError(t, conn.ReadJSON(&notification))
	assert.Equal(t, "incomingCall", notification.Type)
	require.NotNil(t, notification.Call)
	assert.Equal(t, "corr-1", notification.Call.CorrelationID)
}
