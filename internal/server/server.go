// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lingostream/capture/internal/audio"
	caperr "github.com/lingostream/capture/internal/errors"
	"github.com/lingostream/capture/internal/orchestrator"
	"github.com/lingostream/capture/internal/session"
	"github.com/lingostream/capture/internal/trace"
)

// Message types.
type Message struct {
	Type string `json:"type"`
}

type ControlMessage struct {
	Type    string `json:"type"`
	TraceID string `json:"trace_id,omitempty"`
}

type AckMessage struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	State  string `json:"state"`
}

type ClipMessage struct {
	Type       string `json:"type"`
	MimeType   string `json:"mimeType"`
	Data       []byte `json:"data"` // base64 on the wire
	Chunks     int    `json:"chunks"`
	DurationMs int64  `json:"durationMs"`
}

type ErrorMessage struct {
	Type        string `json:"type"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	Remediation string `json:"remediation"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type SessionRequest struct {
	Action string `json:"action"`
	Data   struct {
		Model string `json:"model,omitempty"`
	} `json:"data"`
}

type SessionResponse struct {
	SessionToken string `json:"sessionToken"`
	WsURL        string `json:"wsUrl"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// outbound is one queued message for a connection: binary PCM when data is
// set, JSON otherwise.
type outbound struct {
	data []byte
	json any
}

// client is one WebSocket connection with its rate limiter and outbound
// queue. A single writer goroutine drains the queue, so messages reach the
// peer in the order they were enqueued; a full queue drops the message, the
// same backpressure policy the capture engine uses for frames.
type client struct {
	conn *websocket.Conn
	rl   rateLimiter
	out  chan outbound
}

func (c *client) enqueue(msg outbound) {
	select {
	case c.out <- msg:
	default:
		slog.Debug("client queue full, dropping message")
	}
}

// writeLoop is the connection's only writer. It exits on the first write
// failure or when the queue is closed at disconnect.
func (c *client) writeLoop() {
	for msg := range c.out {
		ctx, cancel := context.WithTimeout(context.Background(), WriteTimeout)
		var err error
		if msg.data != nil {
			err = c.conn.Write(ctx, websocket.MessageBinary, msg.data)
		} else {
			err = wsjson.Write(ctx, c.conn, msg.json)
		}
		cancel()
		if err != nil {
			return
		}
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	orch    *orchestrator.Orchestrator
	broker  *session.Broker
	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

// New creates a new server and starts the event broadcaster.
func New(orch *orchestrator.Orchestrator, broker *session.Broker) *Server {
	s := &Server{
		orch:    orch,
		broker:  broker,
		clients: make(map[*websocket.Conn]*client),
	}

	go s.broadcastEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("GET /api/session", s.handleSessionProbe)
	mux.HandleFunc("POST /api/session", s.handleSessionCreate)

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleSessionProbe is a liveness ack for clients checking the endpoint
// before requesting a credential.
func (s *Server) handleSessionProbe(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("session endpoint ready"))
}

// handleSessionCreate mints an ephemeral realtime credential. The long-lived
// API key never leaves the broker.
func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	log := trace.Logger(r.Context())

	var req SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid action")
		return
	}

	grant, err := s.broker.RequestSession(r.Context(), req.Action, req.Data.Model)
	if err != nil {
		switch {
		case caperr.IsKind(err, caperr.KindInvalidRequest):
			writeJSONError(w, http.StatusBadRequest, "Invalid action")
		case caperr.IsKind(err, caperr.KindConfigurationError):
			log.Error("session request without configured API key")
			writeJSONError(w, http.StatusInternalServerError, "API key not configured")
		default:
			log.Error("session mint failed", "error", err)
			writeJSONError(w, http.StatusBadGateway, "session unavailable")
		}
		return
	}

	log.Info("session granted", "id", grant.Credential.ID)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(SessionResponse{
		SessionToken: grant.Credential.Token,
		WsURL:        grant.Endpoint,
	})
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	cl := &client{conn: conn, out: make(chan outbound, 64)}
	go cl.writeLoop()

	s.mu.Lock()
	s.clients[conn] = cl
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		// No broadcaster can reach the client once it left the map; closing
		// the queue ends the writer.
		close(cl.out)
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		if !cl.rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			cl.enqueue(outbound{json: RateLimitedMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			}})
			continue
		}

		var ctrl ControlMessage
		if err := json.Unmarshal(msg, &ctrl); err != nil {
			continue
		}

		ctx := baseCtx
		if ctrl.TraceID != "" {
			tc := trace.NewChild(trace.Context{TraceID: ctrl.TraceID})
			ctx = trace.WithContext(ctx, tc)
		} else {
			ctx, _ = trace.EnsureContext(ctx)
		}
		s.handleControl(ctx, cl, ctrl.Type)
	}
}

// handleControl dispatches one capture control verb. One control message
// yields one reply: an ack with the resulting state, or an error when the
// verb failed or is unknown.
func (s *Server) handleControl(ctx context.Context, cl *client, verb string) {
	ctx, span := trace.StartSpan(ctx, "handle_control")
	defer span.End()

	log := trace.Logger(ctx)
	log.Info("control message", "verb", verb)

	switch verb {
	case "stream_start":
		if err := s.orch.StartStream(ctx); err != nil {
			s.writeError(cl, err)
			return
		}
	case "stream_stop":
		s.orch.StopStream()
	case "record_start":
		if err := s.orch.StartRecording(ctx); err != nil {
			s.writeError(cl, err)
			return
		}
	case "record_stop":
		s.orch.StopRecording()
	default:
		log.Warn("unknown control verb", "verb", verb)
		cl.enqueue(outbound{json: ErrorMessage{
			Type:        "error",
			Kind:        caperr.KindInvalidRequest.String(),
			Message:     "unknown control verb: " + verb,
			Remediation: caperr.Remediation(caperr.KindInvalidRequest),
		}})
		return
	}

	cl.enqueue(outbound{json: AckMessage{
		Type:   "ack",
		Action: verb,
		State:  s.captureState(verb),
	}})
}

func (s *Server) captureState(verb string) string {
	switch verb {
	case "stream_start", "stream_stop":
		return s.orch.StreamState().String()
	default:
		return s.orch.RecordState().String()
	}
}

func (s *Server) writeError(cl *client, err error) {
	cl.enqueue(outbound{json: errorPayload(err)})
}

func errorPayload(err error) ErrorMessage {
	msg := ErrorMessage{Type: "error", Message: err.Error()}
	if de, ok := err.(*caperr.DeviceError); ok {
		msg.Kind = de.Kind.String()
		msg.Remediation = caperr.Remediation(de.Kind)
	}
	return msg
}

// broadcastEvents fans the merged capture feed out to every connection.
// Frames travel as binary messages (little-endian PCM16); clips and errors as
// JSON. Enqueueing onto each client's single writer keeps per-connection
// message order equal to arrival order.
func (s *Server) broadcastEvents() {
	for ev := range s.orch.Events() {
		switch ev.Type {
		case orchestrator.EventFrameReady:
			s.broadcast(outbound{data: audio.PCM16ToBytes(ev.Frame.PCM)})
		case orchestrator.EventClipReady:
			s.broadcast(outbound{json: ClipMessage{
				Type:       "clip",
				MimeType:   ev.Clip.MimeType,
				Data:       ev.Clip.Data,
				Chunks:     ev.Clip.Chunks,
				DurationMs: ev.Clip.Duration.Milliseconds(),
			}})
		case orchestrator.EventCaptureError:
			s.broadcast(outbound{json: errorPayload(ev.Err)})
		}
	}
}

func (s *Server) broadcast(msg outbound) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cl := range s.clients {
		cl.enqueue(msg)
	}
}
