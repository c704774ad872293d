package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	applog "github.com/sunbk201/speedreader/internal/log"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleLogs streams log lines as they are written, over WebSocket when the
// client asks for an upgrade and as chunked text otherwise. ?filter= keeps
// lines containing it and ?level= drops lines below it, e.g.
// /logs?filter=rewrite&level=warn.
func (s *APIServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := applog.Filter{Contains: q.Get("filter"), Level: q.Get("level")}
	if websocket.IsWebSocketUpgrade(r) {
		s.streamLogsWS(w, r, filter)
		return
	}
	s.streamLogsHTTP(w, r, filter)
}

func (s *APIServer) streamLogsWS(w http.ResponseWriter, r *http.Request, filter applog.Filter) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("upgrader.Upgrade", slog.Any("error", err))
		return
	}
	defer conn.Close()

	sub := s.logBroadcaster.Subscribe(filter)
	defer s.logBroadcaster.Unsubscribe(sub)

	// reads only detect the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case msg, ok := <-sub.Lines():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *APIServer) streamLogsHTTP(w http.ResponseWriter, r *http.Request, filter applog.Filter) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.logBroadcaster.Subscribe(filter)
	defer s.logBroadcaster.Unsubscribe(sub)

	ctx := r.Context()
	for {
		select {
		case msg, ok := <-sub.Lines():
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}
