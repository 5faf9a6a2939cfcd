package api_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"bothost/config"
	"bothost/internal/api"
	"bothost/internal/auth"
	"bothost/internal/botfs"
	"bothost/internal/deploy"
	"bothost/internal/https"
	"bothost/internal/keeper"
	"bothost/internal/logging"
	"bothost/internal/ratelimit"
	"bothost/internal/sandbox"
	"bothost/internal/service"
	"bothost/internal/stream"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	router *gin.Engine
	layout botfs.Layout
	mgr    *keeper.Manager
	hub    *stream.Hub
}

type envOption func(secret *string, opts *api.Options)

func withSecret(s string) envOption {
	return func(secret *string, _ *api.Options) { *secret = s }
}

func withOptions(fn func(*api.Options)) envOption {
	return func(_ *string, opts *api.Options) { fn(opts) }
}

// setupRouter wires the full stack with an "sh" runtime so bots are plain
// shell scripts.
func setupRouter(t *testing.T, options ...envOption) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("api tests need a POSIX shell")
	}
	gin.SetMode(gin.TestMode)
	log := logging.Discard()

	var secret string
	opts := api.Options{
		AllowOrigin: api.OriginPolicy{Origins: []string{"http://localhost:5173"}, Suffix: ".lovable.app"}.Allow,
	}
	for _, o := range options {
		o(&secret, &opts)
	}

	layout := botfs.Layout{Root: t.TempDir()}
	catalog := keeper.DefaultCatalog()
	catalog.Register(&keeper.Runtime{Name: "sh", Command: "sh", DefaultEntry: "main.sh"})

	limits := config.DefaultLimits()
	mgr := keeper.NewManager(layout, keeper.NewMemoryRegistry(), catalog, keeper.Options{StopTimeout: 2 * time.Second}, log)
	hub := stream.NewHub(log)
	mgr.SetSink(hub)
	t.Cleanup(func() { mgr.StopAll(context.Background()) })

	verifier := auth.NewVerifier(secret)
	gateway := stream.NewGateway(hub, mgr, verifier, opts.AllowOrigin, stream.Options{}, log)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), limits.RateLimits, log)

	sb := sandbox.New(layout, sandbox.Options{Allowed: limits.ExecAllowed, Timeout: 5 * time.Second}, log)
	deployer := deploy.NewDeployer(layout, mgr, &deploy.CommandInstaller{Timeout: time.Minute}, log)

	server := api.NewServer(
		service.NewBotService(layout, mgr, deployer, sb),
		service.NewFileService(layout),
		service.NewHistoryService(layout, nil),
		verifier, limiter, gateway.Handle, opts, log,
	)
	return &testEnv{router: server.Router(), layout: layout, mgr: mgr, hub: hub}
}

func (e *testEnv) do(method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:40000"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func deployBody(script string, autoStart bool) api.DeployOption {
	return api.DeployOption{
		Files:     []api.FileOption{{Name: "main.sh", Content: script}},
		Language:  "sh",
		AutoStart: &autoStart,
	}
}

func TestHealth(t *testing.T) {
	e := setupRouter(t)

	w := e.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var h api.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &h))
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 0, h.ActiveBots)
	assert.Empty(t, h.Bots)
	assert.Positive(t, h.MemoryUsage.Goroutines)
	assert.Equal(t, "99", w.Header().Get("X-RateLimit-Remaining"))
}

func TestNoRoute(t *testing.T) {
	e := setupRouter(t)

	w := e.do(http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
}

func TestAuthRequired(t *testing.T) {
	e := setupRouter(t, withSecret("s3cret"))

	w := e.do(http.MethodGet, "/bots/alpha/status", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized: missing token"}`, w.Body.String())

	w = e.do(http.MethodGet, "/bots/alpha/status", nil, "Authorization", "Bearer garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error":"Unauthorized: invalid token"}`, w.Body.String())

	w = e.do(http.MethodPost, "/admin/stop-all", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// health stays public
	w = e.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	e := setupRouter(t)

	w := e.do(http.MethodGet, "/health", nil, "Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodGet, "/health", nil, "Origin", "https://my-bot.lovable.app")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://my-bot.lovable.app", w.Header().Get("Access-Control-Allow-Origin"))

	w = e.do(http.MethodOptions, "/bots/alpha/deploy", nil,
		"Origin", "http://localhost:5173",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Authorization, Content-Type")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestOriginPolicy(t *testing.T) {
	p := api.OriginPolicy{Origins: []string{"http://localhost:3000"}, Suffix: "lovable.app"}

	assert.True(t, p.Allow("http://localhost:3000"))
	assert.True(t, p.Allow("https://x.lovable.app"))
	assert.False(t, p.Allow("https://lovable.app.evil.com"))
	assert.False(t, p.Allow("https://notlovable.app"))
	assert.False(t, p.Allow("http://localhost:3001"))
	assert.False(t, p.Allow("::garbage"))
}

func TestDeployRateLimit(t *testing.T) {
	e := setupRouter(t)

	for i := 0; i < 5; i++ {
		w := e.do(http.MethodPost, "/bots/limited/deploy", deployBody("echo hi\n", false))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	w := e.do(http.MethodPost, "/bots/limited/deploy", deployBody("echo hi\n", false))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "Too many requests. Try again later.", decode(t, w)["error"])

	// other routes keep working
	w = e.do(http.MethodGet, "/bots/limited/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeployErrors(t *testing.T) {
	e := setupRouter(t)

	w := e.do(http.MethodPost, "/bots/alpha/deploy", api.DeployOption{Language: "sh"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body := deployBody("echo hi\n", false)
	body.Language = "cobol"
	w = e.do(http.MethodPost, "/bots/alpha/deploy", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "unsupported language")

	body = deployBody("echo hi\n", false)
	body.Files = append(body.Files, api.FileOption{Name: "../../escape.sh", Content: "x"})
	w = e.do(http.MethodPost, "/bots/alpha/deploy", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(e.layout.Root), "escape.sh"))
	assert.NoDirExists(t, filepath.Join(e.layout.Root, "alpha"))

	req := httptest.NewRequest(http.MethodPost, "/bots/alpha/deploy", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidBotID(t *testing.T) {
	e := setupRouter(t)

	w := e.do(http.MethodGet, "/bots/.hidden/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "invalid bot id")
}

func TestStatusUnknownBot(t *testing.T) {
	e := setupRouter(t)

	w := e.do(http.MethodGet, "/bots/ghost/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"stopped","memoryMb":0}`, w.Body.String())

	w = e.do(http.MethodPost, "/bots/ghost/start", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodPost, "/bots/ghost/stop", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/bots/ghost/logs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"logs":[]}`, w.Body.String())
}

func TestExec(t *testing.T) {
	e := setupRouter(t)
	require.Equal(t, http.StatusOK, e.do(http.MethodPost, "/bots/alpha/deploy", deployBody("echo hi\n", false)).Code)

	w := e.do(http.MethodPost, "/bots/alpha/exec", api.ExecOption{Command: "curl http://example.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "command not allowed")

	w = e.do(http.MethodPost, "/bots/alpha/exec", api.ExecOption{Command: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/bots/alpha/exec", api.ExecOption{Command: "ls"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode(t, w)
	assert.Equal(t, float64(0), res["exitCode"])
	assert.Contains(t, res["output"], "main.sh")
}

func TestFilesCRUD(t *testing.T) {
	e := setupRouter(t)

	w := e.do(http.MethodPost, "/bots/alpha/files", api.UploadFileOption{FileName: "lib/util.sh", Content: "echo util\n"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"success":true}`, w.Body.String())

	w = e.do(http.MethodPost, "/bots/alpha/files", api.UploadFileOption{FileName: "../x", Content: "no"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodPost, "/bots/alpha/files", api.UploadFileOption{Content: "no name"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, "/bots/alpha/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"files":[{"name":"lib/util.sh","size":10}]}`, w.Body.String())

	w = e.do(http.MethodDelete, "/bots/alpha/files/lib/util.sh", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodDelete, "/bots/alpha/files/lib/util.sh", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(http.MethodGet, "/bots/alpha/files", nil)
	assert.JSONEq(t, `{"files":[]}`, w.Body.String())
}

func TestBodyLimit(t *testing.T) {
	e := setupRouter(t, withOptions(func(o *api.Options) { o.BodyLimit = 1024 }))

	w := e.do(http.MethodPost, "/bots/alpha/deploy", deployBody(strings.Repeat("#", 4096), false))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.NoDirExists(t, filepath.Join(e.layout.Root, "alpha"))
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestBundleUpload(t *testing.T) {
	e := setupRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("bundle", "bot.zip")
	require.NoError(t, err)
	_, err = part.Write(buildZip(t, map[string]string{
		"main.sh":            "echo bundled\n",
		"lib/helper.sh":      "true\n",
		"__MACOSX/._main.sh": "junk",
	}))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("language", "sh"))
	require.NoError(t, mw.WriteField("autoStart", "false"))
	require.NoError(t, mw.WriteField("envVars", `{"GREETING":"hello"}`))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/bots/zipped/bundle", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Deploy complete", decode(t, w)["message"])

	dir := filepath.Join(e.layout.Root, "zipped")
	assert.FileExists(t, filepath.Join(dir, "lib", "helper.sh"))
	assert.NoDirExists(t, filepath.Join(dir, "__MACOSX"))
	env, err := botfs.ReadEnv(dir)
	require.NoError(t, err)
	assert.Equal(t, "hello", env["GREETING"])
}

func TestBundleRejectsUnknownFormat(t *testing.T) {
	e := setupRouter(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("bundle", "bot.tar.gz")
	require.NoError(t, err)
	_, _ = part.Write([]byte("whatever"))
	require.NoError(t, mw.WriteField("language", "sh"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/bots/zipped/bundle", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHistoryWithoutLedger(t *testing.T) {
	e := setupRouter(t)

	w := e.do(http.MethodGet, "/bots/alpha/deployments?limit=5", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deployments":[]}`, w.Body.String())

	w = e.do(http.MethodGet, "/bots/alpha/runs", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runs":[]}`, w.Body.String())
}

type fakeCerts struct {
	info *https.CertInfo
	err  error
}

func (f *fakeCerts) CertInfo() (*https.CertInfo, error) { return f.info, f.err }
func (f *fakeCerts) ForceRenew() (string, error)        { return "", f.err }

func TestCertRoutes(t *testing.T) {
	e := setupRouter(t)
	w := e.do(http.MethodGet, "/admin/certs/info", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "cert routes exist only with a cert manager")

	certs := &fakeCerts{info: &https.CertInfo{Domains: []string{"bots.example.com"}, RemainingDays: 42}}
	e = setupRouter(t, withOptions(func(o *api.Options) { o.Certs = certs }))

	w = e.do(http.MethodGet, "/admin/certs/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(42), decode(t, w)["remainingDays"])

	certs.err = https.ErrACMEDisabled
	w = e.do(http.MethodPost, "/admin/certs/renew", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	certs.err = nil
	w = e.do(http.MethodPost, "/admin/certs/renew", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["success"])
}
