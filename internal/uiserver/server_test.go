package uiserver

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-iq-receiver/internal/config"
	"go-iq-receiver/internal/dsp"
	"go-iq-receiver/internal/engine"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.New()
	cfg.FFTSize = 256
	cfg.AveragingCount = 1
	cfg.WaterfallHeight = 4
	cfg.PublishInterval = 0
	e, err := engine.New(cfg, log.New(io.Discard))
	require.NoError(t, err)
	return e
}

func feed(e *engine.Engine, chunks int) {
	e.Submit(bytes.Repeat([]byte{200, 60}, chunks*256))
	e.Process()
}

func newTestServer(t *testing.T, e *engine.Engine) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(New(e, 5*time.Millisecond, log.New(io.Discard)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v))
}

func TestApply(t *testing.T) {
	e := newEngine(t)

	require.NoError(t, Apply(e, Command{Type: "tune", Value: 0.3}))
	assert.Equal(t, 0.3, e.TuningOffset())

	require.NoError(t, Apply(e, Command{Type: "mode", Mode: "am"}))
	require.NoError(t, Apply(e, Command{Type: "squelch", Value: 0.2}))
	require.NoError(t, Apply(e, Command{Type: "bandwidth", Value: 8000}))
	require.NoError(t, Apply(e, Command{Type: "display", FFTSize: 512, AveragingCount: 2, WaterfallHeight: 8}))
	s := e.Settings()
	assert.Equal(t, dsp.ModeAM, s.Mode)
	assert.Equal(t, 0.2, s.Squelch)
	assert.Equal(t, 8000.0, s.BandwidthHz)
	assert.Equal(t, 512, s.FFTSize)

	require.NoError(t, Apply(e, Command{Type: "autoScale", Enabled: false}))
	require.NoError(t, Apply(e, Command{Type: "manualScale", MinDB: -30, MaxDB: 10}))
	assert.Equal(t, dsp.Scale{MinDB: -30, MaxDB: 10}, e.Scale().Scale)

	assert.ErrorIs(t, Apply(e, Command{Type: "reboot"}), ErrUnknownCommand)
	assert.Error(t, Apply(e, Command{Type: "mode", Mode: "ssb"}))
	assert.Error(t, Apply(e, Command{Type: "display", FFTSize: 300, AveragingCount: 1, WaterfallHeight: 1}))
	assert.Error(t, Apply(e, Command{Type: "display", FFTSize: 1 << 30, AveragingCount: 1, WaterfallHeight: 1}))
	assert.Equal(t, 512, e.Settings().FFTSize)
}

func TestWebSocket_StateThenFrames(t *testing.T) {
	e := newEngine(t)
	srv := newTestServer(t, e)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var state stateMessage
	readJSON(t, conn, &state)
	assert.Equal(t, "state", state.Type)
	assert.Equal(t, 256, state.Settings.FFTSize)
	assert.Equal(t, dsp.ModeNFM, state.Settings.Mode)

	feed(e, 1)
	var frame frameMessage
	readJSON(t, conn, &frame)
	assert.Equal(t, "spectrum", frame.Type)
	assert.Equal(t, uint64(1), frame.Version)
	assert.Len(t, frame.Frame, 256)
}

func TestWebSocket_Commands(t *testing.T) {
	e := newEngine(t)
	srv := newTestServer(t, e)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	var state stateMessage
	readJSON(t, conn, &state)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"tune","value":0.25}`)))
	readJSON(t, conn, &state)
	assert.Equal(t, "state", state.Type)
	assert.Equal(t, 0.25, state.TuningOffset)
	assert.Equal(t, 0.25, e.TuningOffset())

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bandwidth","value":-1}`)))
	var msg errorMessage
	readJSON(t, conn, &msg)
	assert.Equal(t, "error", msg.Type)
	assert.NotEmpty(t, msg.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	readJSON(t, conn, &msg)
	assert.Equal(t, "error", msg.Type)
}

func TestSnapshotEndpoint(t *testing.T) {
	e := newEngine(t)
	feed(e, 3)
	srv := newTestServer(t, e)

	resp, err := http.Get(srv.URL + "/api/snapshot?waterfall=1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got snapshotResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, uint64(3), got.Spectrum.Version)
	assert.Len(t, got.Spectrum.Frame, 256)
	assert.Equal(t, 256, got.Waterfall.Width)
	assert.Equal(t, 3, got.Waterfall.Height)
	assert.Len(t, got.Waterfall.Rows, 3)
	assert.True(t, got.Scale.Auto)
}

func TestCommandEndpoint(t *testing.T) {
	e := newEngine(t)
	srv := newTestServer(t, e)

	resp, err := http.Post(srv.URL+"/api/command", "application/json", strings.NewReader(`{"type":"squelch","value":0.5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.5, e.Settings().Squelch)

	resp, err = http.Post(srv.URL+"/api/command", "application/json", strings.NewReader(`{"type":"nope"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/command")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	e := newEngine(t)
	feed(e, 2)
	srv := newTestServer(t, e)

	resp, err := http.Get(srv.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st engine.Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, uint64(2), st.Chunks)
	assert.Equal(t, uint64(1024), st.BytesIn)
}
