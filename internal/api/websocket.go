package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harrylevesque/equipscan/internal/auth"
	"github.com/harrylevesque/equipscan/internal/config"
	"github.com/harrylevesque/equipscan/internal/models"
	"github.com/harrylevesque/equipscan/internal/scanner"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	maxFrameBytes = 4 << 20
)

// Message types on /ws/scanner.
const (
	msgState         = "state"
	msgNotify        = "notify"
	msgNavigate      = "navigate"
	msgCue           = "cue"
	msgCameraRequest = "camera_request"
	msgCameraStop    = "camera_stop"
	msgError         = "error"

	msgOpen        = "open"
	msgCameraReady = "camera_ready"
	msgCameraError = "camera_error"
	msgManual      = "manual"
	msgBorrow      = "borrow"
	msgReturn      = "return"
	msgClose       = "close"
)

// wsMessage is the JSON envelope for both directions. Binary messages from
// the client are camera frames.
type wsMessage struct {
	Type string `json:"type"`

	Code    string `json:"code,omitempty"`
	Name    string `json:"name,omitempty"`
	Message string `json:"message,omitempty"`

	State       *scanner.Snapshot    `json:"state,omitempty"`
	Severity    scanner.Severity     `json:"severity,omitempty"`
	Action      *models.Action       `json:"action,omitempty"`
	Cue         scanner.Cue          `json:"cue,omitempty"`
	URL         string               `json:"url,omitempty"`
	Constraints *scanner.Constraints `json:"constraints,omitempty"`
}

// wsConn serializes writes and gives the session its notifier, navigator
// and cue player.
type wsConn struct {
	conn   *websocket.Conn
	sounds config.SoundConfig
	logger *slog.Logger

	mu sync.Mutex
}

func (c *wsConn) send(m wsMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(m)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *wsConn) sendQuiet(m wsMessage) {
	if err := c.send(m); err != nil {
		c.logger.Debug("Websocket write failed", "type", m.Type, "error", err)
	}
}

func (c *wsConn) Notify(sev scanner.Severity, message string) {
	c.sendQuiet(wsMessage{Type: msgNotify, Severity: sev, Message: message})
}

func (c *wsConn) OpenRecord(id string) {
	c.Follow(&models.Action{Type: models.ActionOpenRecord, Model: "equipment", ID: id})
}

func (c *wsConn) Follow(a *models.Action) {
	c.sendQuiet(wsMessage{Type: msgNavigate, Action: a})
}

func (c *wsConn) CloseScanner() {
	c.Follow(&models.Action{Type: models.ActionClose})
}

func (c *wsConn) Play(cue scanner.Cue) error {
	url := c.sounds.Success
	if cue == scanner.CueError {
		url = c.sounds.Error
	}
	return c.send(wsMessage{Type: msgCue, Cue: cue, URL: url})
}

// ===== Handler =====

// ScannerSocketHandler runs one scanner session per websocket connection.
// The session is closed when the connection ends.
func (s *Server) ScannerSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	operator := auth.Operator(ctx)
	logger := s.logger.With("operator", operator, "remote", r.RemoteAddr)

	wc := &wsConn{conn: conn, sounds: s.cfg.Scanner.Sounds, logger: logger}
	sc := s.cfg.Scanner
	cam := scanner.NewPushCamera(
		func(c scanner.Constraints) error {
			return wc.send(wsMessage{Type: msgCameraRequest, Constraints: &c})
		},
		func() { wc.sendQuiet(wsMessage{Type: msgCameraStop}) },
		sc.CameraOpenTimeout,
	)
	sess := scanner.NewSession(scanner.Options{
		Camera:        cam,
		Inventory:     s.inventory,
		DecoderName:   sc.Decoder,
		Formats:       sc.Formats,
		Notifier:      wc,
		Navigator:     wc,
		Cues:          wc,
		Publisher:     s.publisher,
		Metrics:       s.metrics,
		Logger:        logger,
		BaseContext:   auth.WithOperator(ctx, operator),
		Constraints:   scanner.Constraints{FacingMode: sc.FacingMode, IdealWidth: sc.IdealWidth, IdealHeight: sc.IdealHeight},
		TickInterval:  sc.TickInterval,
		NavigateDelay: sc.NavigateDelay,
		Cooldown:      sc.Cooldown,
		LookupTimeout: sc.LookupTimeout,
		Station:       s.station,
	})
	defer sess.Close()

	states, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	go wc.forward(ctx, states)

	logger.Info("Scanner connected")
	go s.openCamera(ctx, sess, logger)

	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Scanner connection lost", "error", err)
			} else {
				logger.Info("Scanner disconnected")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if kind == websocket.BinaryMessage {
			if err := cam.PushFrame(data); err != nil && !errors.Is(err, scanner.ErrNoStream) {
				logger.Debug("Frame rejected", "error", err)
			}
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			wc.sendQuiet(wsMessage{Type: msgError, Message: "malformed message"})
			continue
		}
		switch msg.Type {
		case msgOpen:
			go s.openCamera(ctx, sess, logger)
		case msgCameraReady:
			cam.Ready()
		case msgCameraError:
			cam.Fail(msg.Name, msg.Message)
		case msgManual:
			sess.SubmitManual(msg.Code)
		case msgBorrow:
			go runSessionAction(ctx, logger, msgBorrow, sess.Borrow)
		case msgReturn:
			go runSessionAction(ctx, logger, msgReturn, sess.Return)
		case msgClose:
			sess.Close()
		default:
			wc.sendQuiet(wsMessage{Type: msgError, Message: "unknown message type: " + msg.Type})
		}
	}
}

// forward pushes every session snapshot to the client and keeps the
// connection alive with pings.
func (c *wsConn) forward(ctx context.Context, states <-chan scanner.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-states:
			c.sendQuiet(wsMessage{Type: msgState, State: &st})
		case <-ticker.C:
			if err := c.ping(); err != nil {
				c.logger.Debug("Ping failed", "error", err)
			}
		}
	}
}

func (s *Server) openCamera(ctx context.Context, sess *scanner.Session, logger *slog.Logger) {
	if err := sess.Open(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, scanner.ErrClosed) {
		logger.Info("Camera unavailable, manual entry only", "error", err)
	}
}

func runSessionAction(ctx context.Context, logger *slog.Logger, name string, act func(context.Context) error) {
	err := act(ctx)
	switch {
	case err == nil:
	case errors.Is(err, scanner.ErrNoRecord), errors.Is(err, scanner.ErrActionInFlight):
		logger.Debug("Action ignored", "action", name, "reason", err)
	default:
		logger.Info("Action failed", "action", name, "error", err)
	}
}
