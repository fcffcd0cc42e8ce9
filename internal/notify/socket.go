package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/covenant-app/covenant/internal/auth"
	"github.com/covenant-app/covenant/internal/platform/httpx"
	"github.com/covenant-app/covenant/internal/shared"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxFrameBytes = 4096
	snapshotWait  = 2 * time.Second

	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"

	// eventInvalidFrame is queued for a frame the session could not parse.
	eventInvalidFrame = "error"
	// eventForbidden is queued for a subscription the principal may not see.
	eventForbidden = "forbidden"
)

// StateReader returns the current lock state for a resource. Sessions get a
// snapshot on subscribe so a missed event is corrected.
type StateReader interface {
	Snapshot(ctx context.Context, resourceType, resourceID string) Event
}

// SubscribeAuthorizer decides whether a principal may watch a resource.
type SubscribeAuthorizer interface {
	CanWatch(principal auth.Principal, resourceType, resourceID string) bool
}

// SocketHandler upgrades authenticated requests to a websocket session.
type SocketHandler struct {
	hub      *Hub
	state    StateReader
	authz    SubscribeAuthorizer
	logger   *slog.Logger
	upgrader websocket.Upgrader
	validate *validator.Validate
}

// NewSocketHandler constructs a SocketHandler. state may be nil; a nil authz
// refuses every subscription.
func NewSocketHandler(hub *Hub, state StateReader, authz SubscribeAuthorizer, logger *slog.Logger) *SocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketHandler{
		hub:    hub,
		state:  state,
		authz:  authz,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		validate: validator.New(),
	}
}

type clientFrame struct {
	Action       string `json:"action" validate:"required,oneof=subscribe unsubscribe"`
	ResourceType string `json:"resourceType" validate:"required,max=64,excludesall=:"`
	ResourceID   string `json:"resourceId" validate:"required,max=128,excludesall=:"`
}

type errorFrame struct {
	Error    string `json:"error"`
	Code     string `json:"code,omitempty"`
	Required string `json:"required,omitempty"`
}

func (h *SocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.AuthRequired())
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("notify: upgrade", slog.Any("error", err))
		return
	}
	session := h.hub.Open()
	ctx := context.WithoutCancel(r.Context())
	logger := h.logger.With(slog.String("session_id", session.ID))
	go h.readLoop(ctx, conn, session, principal, logger)
	h.writeLoop(conn, session, logger)
}

func (h *SocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *Session, principal auth.Principal, logger *slog.Logger) {
	defer session.Close()
	conn.SetReadLimit(maxFrameBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var frame clientFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("notify: read", slog.Any("error", err))
			}
			if !isDecodeError(err) {
				return
			}
			session.Send(Message{Event: eventInvalidFrame})
			continue
		}
		if err := h.validate.Struct(frame); err != nil {
			session.Send(Message{Event: eventInvalidFrame})
			continue
		}
		topic := shared.LockTopic(frame.ResourceType, frame.ResourceID)
		switch frame.Action {
		case actionSubscribe:
			if h.authz == nil || !h.authz.CanWatch(principal, frame.ResourceType, frame.ResourceID) {
				session.Send(Message{Event: eventForbidden})
				continue
			}
			session.Subscribe(topic)
			if h.state != nil {
				snapCtx, cancel := context.WithTimeout(ctx, snapshotWait)
				ev := h.state.Snapshot(snapCtx, frame.ResourceType, frame.ResourceID)
				cancel()
				session.Send(ev.Message())
			}
		case actionUnsubscribe:
			session.Unsubscribe(topic)
		}
	}
}

func (h *SocketHandler) writeLoop(conn *websocket.Conn, session *Session, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		session.Close()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-session.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			var err error
			switch msg.Event {
			case eventInvalidFrame:
				err = conn.WriteJSON(errorFrame{Error: "invalid frame"})
			case eventForbidden:
				err = conn.WriteJSON(errorFrame{
					Error:    "permission denied",
					Code:     string(shared.CodeForbidden),
					Required: shared.PermLocksRead,
				})
			default:
				err = conn.WriteJSON(msg)
			}
			if err != nil {
				logger.Debug("notify: write", slog.Any("error", err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	// Empty and truncated frames surface as io.ErrUnexpectedEOF from ReadJSON;
	// a dropped connection is a *websocket.CloseError instead.
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}
