package server

import (
	"ImagenStudio/internal/app/controller"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// inbound сообщение страницы.
type inbound struct {
	Type   string `json:"type"` // submit|select
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	APIKey string `json:"apiKey"`
}

// outbound сообщение сервера: hello при подключении, state на каждое изменение, error для отказов.
type outbound struct {
	Type    string               `json:"type"`
	Session string               `json:"session,omitempty"`
	State   *controller.Snapshot `json:"state,omitempty"`
	Message string               `json:"message,omitempty"`
}

// session одно WebSocket-подключение со своим контроллером.
type session struct {
	id     string
	conn   *websocket.Conn
	ctrl   *controller.Controller
	server *Server
	logger *zap.SugaredLogger

	out     chan outbound
	submits sync.WaitGroup
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// Upgrade захватывает соединение и Shutdown его больше не ждёт, поэтому сессия
	// регистрируется до Upgrade.
	if !s.acquireSession() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	sess := &session{
		id:     id,
		conn:   conn,
		ctrl:   controller.New(s.deps.Generator, s.deps.DefaultModel, s.deps.KeyPolicy, s.logger.With("session", id)),
		server: s,
		logger: s.logger.With("session", id),
		out:    make(chan outbound, 8),
	}
	sess.run(s.sessionsCtx)
}

func (sess *session) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sess.logger.Infow("Session opened", "remote", sess.conn.RemoteAddr().String())
	snapshots, unsubscribe := sess.ctrl.Subscribe()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		sess.writeLoop(ctx, snapshots)
		// Закрытое соединение прерывает ReadMessage в readLoop.
		cancel()
		_ = sess.conn.Close()
	}()

	sess.readLoop(ctx)

	cancel()
	sess.submits.Wait()
	unsubscribe()
	<-writerDone
	_ = sess.conn.Close()
	sess.logger.Infow("Session closed")
}

// readLoop разбирает входящие сообщения, пока соединение живо.
func (sess *session) readLoop(ctx context.Context) {
	sess.conn.SetReadLimit(maxMessageSize)
	_ = sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.logger.Warnw("websocket read failed", "error", err)
			}
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendError(ctx, "malformed message: "+err.Error())
			continue
		}
		sess.handle(ctx, msg)
	}
}

func (sess *session) handle(ctx context.Context, msg inbound) {
	switch msg.Type {
	case "submit":
		if sess.ctrl.Snapshot().Status == controller.StatusLoading {
			sess.sendError(ctx, controller.ErrBusy.Error())
			return
		}
		model := sess.server.resolveModel(msg.Model)
		sess.submits.Add(1)
		go func() {
			defer sess.submits.Done()
			if _, err := sess.ctrl.Submit(ctx, msg.Prompt, model, msg.APIKey); errors.Is(err, controller.ErrBusy) {
				sess.sendError(ctx, err.Error())
			}
		}()
	case "select":
		if err := sess.ctrl.SelectModel(sess.server.resolveModel(msg.Model)); err != nil {
			sess.sendError(ctx, err.Error())
		}
	default:
		sess.sendError(ctx, "unknown message type "+msg.Type)
	}
}

func (sess *session) sendError(ctx context.Context, message string) {
	select {
	case sess.out <- outbound{Type: "error", Message: message}:
	case <-ctx.Done():
	}
}

// writeLoop единственный писатель в соединение: gorilla/websocket не допускает параллельной записи.
func (sess *session) writeLoop(ctx context.Context, snapshots <-chan controller.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	initial := sess.ctrl.Snapshot()
	if err := sess.write(outbound{Type: "hello", Session: sess.id, State: &initial}); err != nil {
		return
	}

	for {
		select {
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := sess.write(outbound{Type: "state", State: &snap}); err != nil {
				sess.logger.Warnw("websocket write failed", "error", err)
				return
			}
		case msg := <-sess.out:
			if err := sess.write(msg); err != nil {
				sess.logger.Warnw("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			_ = sess.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (sess *session) write(msg outbound) error {
	_ = sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return sess.conn.WriteJSON(msg)
}
