package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bothost/internal/auth"
	"bothost/internal/keeper"
	"bothost/internal/logging"
	"bothost/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bufferSource serves replay from per-bot LogBuffers wired to the hub.
type bufferSource struct {
	buffers map[string]*keeper.LogBuffer
}

func (s *bufferSource) Attach(botID string, n int, fn func([]models.LogEntry)) {
	buf, ok := s.buffers[botID]
	if !ok {
		fn(nil)
		return
	}
	buf.Attach(n, fn)
}

type testEnv struct {
	hub     *Hub
	gateway *Gateway
	source  *bufferSource
	server  *httptest.Server
	wsURL   string
}

func newTestEnv(t *testing.T, opts Options, verifier *auth.Verifier) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.Discard()

	hub := NewHub(log)
	source := &bufferSource{buffers: map[string]*keeper.LogBuffer{}}
	if verifier == nil {
		verifier = auth.NewVerifier("")
	}
	gw := NewGateway(hub, source, verifier, func(o string) bool { return o == "https://ok.example" }, opts, log)

	r := gin.New()
	r.GET("/ws", gw.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &testEnv{
		hub:     hub,
		gateway: gw,
		source:  source,
		server:  srv,
		wsURL:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (e *testEnv) buffer(botID string) *keeper.LogBuffer {
	buf := keeper.NewLogBuffer(botID, 1000, e.hub)
	e.source.buffers[botID] = buf
	return buf
}

func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEntry(t *testing.T, conn *websocket.Conn) models.LogEntry {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var e models.LogEntry
	require.NoError(t, json.Unmarshal(data, &e))
	return e
}

func TestReplayThenLive(t *testing.T) {
	env := newTestEnv(t, Options{ReplaySize: 50, MaxPerIP: 10}, nil)
	buf := env.buffer("alpha")
	for i := 0; i < 30; i++ {
		buf.Emit(models.LevelInfo, fmt.Sprintf("line %d", i))
	}

	conn := dial(t, env.wsURL+"?botId=alpha", nil)
	for i := 0; i < 30; i++ {
		e := readEntry(t, conn)
		assert.Equal(t, fmt.Sprintf("line %d", i), e.Message)
		assert.Equal(t, models.LevelInfo, e.Level)
	}

	require.Eventually(t, func() bool { return env.hub.Subscribers("alpha") == 1 }, time.Second, 10*time.Millisecond)
	buf.Emit(models.LevelError, "live")
	e := readEntry(t, conn)
	assert.Equal(t, "live", e.Message)
	assert.Equal(t, models.LevelError, e.Level)
}

func TestReplayIsBoundedToLastEntries(t *testing.T) {
	env := newTestEnv(t, Options{ReplaySize: 50, MaxPerIP: 10}, nil)
	buf := env.buffer("beta")
	for i := 0; i < 120; i++ {
		buf.Emit(models.LevelInfo, fmt.Sprintf("line %d", i))
	}

	conn := dial(t, env.wsURL+"?botId=beta", nil)
	assert.Equal(t, "line 70", readEntry(t, conn).Message)
}

func TestOtherBotsAreNotDelivered(t *testing.T) {
	env := newTestEnv(t, Options{MaxPerIP: 10}, nil)
	a := env.buffer("a")
	b := env.buffer("b")

	conn := dial(t, env.wsURL+"?botId=a", nil)
	require.Eventually(t, func() bool { return env.hub.Subscribers("a") == 1 }, time.Second, 10*time.Millisecond)

	b.Emit(models.LevelInfo, "for b")
	a.Emit(models.LevelInfo, "for a")
	assert.Equal(t, "for a", readEntry(t, conn).Message)
}

func TestPerIPCap(t *testing.T) {
	env := newTestEnv(t, Options{MaxPerIP: 2}, nil)

	dial(t, env.wsURL, nil)
	dial(t, env.wsURL, nil)
	third := dial(t, env.wsURL, nil)

	require.NoError(t, third.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := third.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	require.Eventually(t, func() bool { return env.hub.Count() == 2 }, time.Second, 10*time.Millisecond)
}

func TestSlotFreedOnClose(t *testing.T) {
	env := newTestEnv(t, Options{MaxPerIP: 1}, nil)

	first := dial(t, env.wsURL, nil)
	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 10*time.Millisecond)
	first.Close()
	require.Eventually(t, func() bool { return env.hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)

	dial(t, env.wsURL, nil)
	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSweepTerminatesSilentClients(t *testing.T) {
	env := newTestEnv(t, Options{MaxPerIP: 10}, nil)

	responsive := dial(t, env.wsURL, nil)
	go func() {
		// reading makes the client answer pings
		for {
			if _, _, err := responsive.ReadMessage(); err != nil {
				return
			}
		}
	}()
	dial(t, env.wsURL, nil) // never reads, never answers pings
	require.Eventually(t, func() bool { return env.hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	env.gateway.sweep() // both alive, both pinged
	time.Sleep(200 * time.Millisecond)
	env.gateway.sweep() // silent one is terminated

	require.Eventually(t, func() bool { return env.hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeAuthAndOrigin(t *testing.T) {
	env := newTestEnv(t, Options{MaxPerIP: 10}, auth.NewVerifier("secret"))

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL+"?botId=a", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env = newTestEnv(t, Options{MaxPerIP: 10}, nil)
	_, resp, err = websocket.DefaultDialer.Dial(env.wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	dial(t, env.wsURL, http.Header{"Origin": {"https://ok.example"}})
}

func TestHandshakeRejectsBadBotID(t *testing.T) {
	env := newTestEnv(t, Options{MaxPerIP: 10}, nil)
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL+"?botId=..%2Fetc", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
