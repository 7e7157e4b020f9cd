// Package uiserver exposes engine snapshots and controls to a browser UI over
// a WebSocket plus a small JSON API.
package uiserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"go-iq-receiver/internal/engine"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 4096
	sendQueue      = 16
)

// Server pushes spectrum frames to every connected client whenever a new one
// is published, polling at most once per frame interval.
type Server struct {
	rx        Receiver
	log       *log.Logger
	frameRate time.Duration
	upgrader  websocket.Upgrader
}

// New returns a server for rx. frameRate bounds how often clients are sent
// frames.
func New(rx Receiver, frameRate time.Duration, logger *log.Logger) *Server {
	if frameRate <= 0 {
		frameRate = 33 * time.Millisecond
	}
	return &Server{
		rx:        rx,
		log:       logger,
		frameRate: frameRate,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/snapshot", s.handleSnapshot)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/command", s.handleCommand)
	return mux
}

// Serve listens on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("ui listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type frameMessage struct {
	Type    string               `json:"type"`
	Version uint64               `json:"version"`
	Frame   []float64            `json:"frame"`
	Scale   engine.ScaleSnapshot `json:"scale"`
}

type stateMessage struct {
	Type         string               `json:"type"`
	Settings     engine.Settings      `json:"settings"`
	TuningOffset float64              `json:"tuningOffset"`
	Scale        engine.ScaleSnapshot `json:"scale"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func (s *Server) state() stateMessage {
	return stateMessage{
		Type:         "state",
		Settings:     s.rx.Settings(),
		TuningOffset: s.rx.TuningOffset(),
		Scale:        s.rx.Scale(),
	}
}

type client struct {
	conn *websocket.Conn
	send chan any
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan any, sendQueue)}
	s.log.Debug("client connected", "remote", r.RemoteAddr)

	c.send <- s.state()
	done := make(chan struct{})
	go s.writePump(c, done)
	s.readPump(c)
	close(done)
	s.log.Debug("client disconnected", "remote", r.RemoteAddr)
}

// readPump applies incoming commands until the connection fails.
func (s *Server) readPump(c *client) {
	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.reply(c, errorMessage{Type: "error", Error: err.Error()})
			continue
		}
		if err := Apply(s.rx, cmd); err != nil {
			s.reply(c, errorMessage{Type: "error", Error: err.Error()})
			continue
		}
		s.reply(c, s.state())
	}
}

func (s *Server) reply(c *client, msg any) {
	select {
	case c.send <- msg:
	default:
		s.log.Warn("client send queue full, dropping reply")
	}
}

// writePump is the only writer on the connection. It interleaves replies with
// new spectrum frames.
func (s *Server) writePump(c *client, done <-chan struct{}) {
	ticker := time.NewTicker(s.frameRate)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var sent uint64
	for {
		select {
		case <-done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			if err := s.write(c, msg); err != nil {
				return
			}
		case <-ticker.C:
			snap := s.rx.Spectrum()
			if snap.Version == sent {
				continue
			}
			sent = snap.Version
			msg := frameMessage{Type: "spectrum", Version: snap.Version, Frame: snap.Frame, Scale: s.rx.Scale()}
			if err := s.write(c, msg); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(c *client, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("encode message", "err", err)
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

type waterfallSummary struct {
	Version uint64      `json:"version"`
	Width   int         `json:"width"`
	Height  int         `json:"height"`
	Rows    [][]float64 `json:"rows,omitempty"`
}

type snapshotResponse struct {
	Spectrum     engine.SpectrumSnapshot `json:"spectrum"`
	Scale        engine.ScaleSnapshot    `json:"scale"`
	Waterfall    waterfallSummary        `json:"waterfall"`
	Settings     engine.Settings         `json:"settings"`
	TuningOffset float64                 `json:"tuningOffset"`
}

// handleSnapshot returns the latest snapshots. Waterfall rows are only
// included with ?waterfall=1.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	wf := s.rx.Waterfall()
	resp := snapshotResponse{
		Spectrum: s.rx.Spectrum(),
		Scale:    s.rx.Scale(),
		Waterfall: waterfallSummary{
			Version: wf.Version,
			Width:   wf.Width,
			Height:  len(wf.Rows),
		},
		Settings:     s.rx.Settings(),
		TuningOffset: s.rx.TuningOffset(),
	}
	if r.URL.Query().Get("waterfall") == "1" {
		resp.Waterfall.Rows = wf.Rows
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.rx.Stats())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var cmd Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&cmd); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorMessage{Type: "error", Error: err.Error()})
		return
	}
	if err := Apply(s.rx, cmd); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorMessage{Type: "error", Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("write response", "err", err)
	}
}
