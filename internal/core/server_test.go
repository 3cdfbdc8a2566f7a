package core

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/ParleSec/defra-id-stub/internal/lookingglass"
	"github.com/ParleSec/defra-id-stub/internal/openid"
	"github.com/ParleSec/defra-id-stub/internal/people/mocks"
	"github.com/ParleSec/defra-id-stub/internal/plugin"
	"github.com/ParleSec/defra-id-stub/internal/protocols/oidc"
	"github.com/ParleSec/defra-id-stub/internal/protocols/s3admin"
	"github.com/ParleSec/defra-id-stub/internal/protocols/signin"
	"github.com/ParleSec/defra-id-stub/pkg/models"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := loadConfig(missingEnvFile(t))
	require.NoError(t, err)
	cfg.StorageDir = t.TempDir()
	cfg.SessionStore = "memory"
	return cfg
}

func newTestServer(t *testing.T, cfg *Config, opts BootstrapOptions) (*BootstrapResult, http.Handler) {
	t.Helper()
	ctx := context.Background()

	result, err := Bootstrap(ctx, cfg, zap.NewNop(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { result.Close() })

	registry := plugin.NewRegistry()
	require.NoError(t, registry.Register(oidc.NewPlugin()))
	require.NoError(t, registry.Register(signin.NewPlugin()))
	if result.PluginConfig.Datasets != nil {
		require.NoError(t, registry.Register(s3admin.NewPlugin()))
	}
	require.NoError(t, registry.InitializeAll(ctx, result.PluginConfig))

	return result, NewServer(cfg, registry, result.PluginConfig).Router()
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestServer_Health(t *testing.T) {
	_, h := newTestServer(t, testConfig(t), BootstrapOptions{})

	rec := serve(h, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"success"}`, rec.Body.String())
}

func TestServer_SecurityHeaders(t *testing.T) {
	_, h := newTestServer(t, testConfig(t), BootstrapOptions{})

	rec := serve(h, http.MethodGet, "/health")
	assert.Equal(t, "noindex, nofollow", rec.Header().Get("X-Robots-Tag"))
	assert.Equal(t, "same-origin", rec.Header().Get("Cross-Origin-Opener-Policy"))
	assert.Equal(t, "require-corp", rec.Header().Get("Cross-Origin-Embedder-Policy"))
	assert.Equal(t, "same-site", rec.Header().Get("Cross-Origin-Resource-Policy"))
	assert.Equal(t, "same-origin", rec.Header().Get("Referrer-Policy"))
	assert.Contains(t, rec.Header().Get("Permissions-Policy"), "camera=()")

	for _, path := range []string{openid.WellKnownPath, openid.KeysPath} {
		rec := serve(h, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		if strings.Contains(path, "/.well-known/") {
			assert.Empty(t, rec.Header().Get("Cross-Origin-Resource-Policy"), path)
		}
	}

	rec = serve(h, http.MethodPost, openid.TokenPath)
	assert.Empty(t, rec.Header().Get("Cross-Origin-Resource-Policy"))
}

func TestServer_HomePage(t *testing.T) {
	cfg := testConfig(t)
	cfg.AuthMode = "mock"
	_, h := newTestServer(t, cfg, BootstrapOptions{})

	rec := serve(h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http://localhost:3007"+openid.WellKnownPath)
	assert.Contains(t, rec.Body.String(), "built-in people (mock mode)")
	assert.NotContains(t, rec.Body.String(), `href="/s3"`)
}

func TestServer_EventsAndFlows(t *testing.T) {
	result, h := newTestServer(t, testConfig(t), BootstrapOptions{})

	query := url.Values{
		"serviceId":    {"service"},
		"client_id":    {"client"},
		"redirect_uri": {"https://rp.example/callback"},
		"scope":        {"openid"},
	}
	rec := serve(h, http.MethodGet, openid.AuthorizePath+"?"+query.Encode())
	require.Equal(t, http.StatusFound, rec.Code)

	rec = serve(h, http.MethodGet, "/api/events")
	require.Equal(t, http.StatusOK, rec.Code)
	var events EventListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events.Events, 1)
	assert.Equal(t, lookingglass.EventTypeAuthorizeReceived, events.Events[0].Type)

	rec = serve(h, http.MethodGet, "/api/events?flowId=other")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Empty(t, events.Events)

	rec = serve(h, http.MethodDelete, "/api/events")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, result.LookingGlass.History(""))

	rec = serve(h, http.MethodGet, "/api/flows")
	var flows FlowListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flows))
	assert.NotEmpty(t, flows.Flows)

	rec = serve(h, http.MethodGet, "/api/plugins")
	var plugins PluginListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plugins))
	require.Len(t, plugins.Plugins, 2)
	assert.Equal(t, "openid", plugins.Plugins[0].ID)
}

func TestServer_DecodeToken(t *testing.T) {
	_, h := newTestServer(t, testConfig(t), BootstrapOptions{})

	// header {"alg":"none"} payload {"sub":"abc"}
	body := `{"token":"eyJhbGciOiJub25lIn0.eyJzdWIiOiJhYmMifQ."}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/decode", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"claims":{"sub":"abc"}}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/decode", strings.NewReader(`{"token":"nope"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_S3RoutesOnlyWhenEnabled(t *testing.T) {
	_, h := newTestServer(t, testConfig(t), BootstrapOptions{})
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/s3").Code)

	cfg := testConfig(t)
	cfg.S3Enabled = true
	cfg.S3Bucket = "datasets"
	api := mocks.NewMockObjectAPI(gomock.NewController(t))
	api.EXPECT().ListObjectsV2(gomock.Any(), gomock.Any()).Return(&s3.ListObjectsV2Output{}, nil)

	_, h = newTestServer(t, cfg, BootstrapOptions{ObjectAPI: api})
	rec := serve(h, http.MethodGet, "/s3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bucket":"datasets","datasets":[]}`, rec.Body.String())
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitPerMinute = 2
	_, h := newTestServer(t, cfg, BootstrapOptions{})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health").Code)

	rec := serve(h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	var e models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "Rate limit exceeded", e.Message)
}

func TestServer_RateLimitIgnoresForwardedFor(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitPerMinute = 1
	_, h := newTestServer(t, cfg, BootstrapOptions{})

	forwarded := func(ip string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Forwarded-For", ip)
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, forwarded("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, forwarded("203.0.113.2"))
	assert.Equal(t, http.StatusTooManyRequests, forwarded("203.0.113.3"))
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("10.0.0.1"))
	assert.False(t, rl.allow("10.0.0.1"))
	assert.True(t, rl.allow("10.0.0.2"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("10.0.0.1"))
}

func TestRecovery(t *testing.T) {
	h := Recovery(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := serve(h, http.MethodGet, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "An internal server error occurred")
}

func TestServer_CORS(t *testing.T) {
	cfg := testConfig(t)
	cfg.CORSOrigins = "http://localhost:3000"
	_, h := newTestServer(t, cfg, BootstrapOptions{})

	req := httptest.NewRequest(http.MethodGet, openid.WellKnownPath, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, openid.WellKnownPath, nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
