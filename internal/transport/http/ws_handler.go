package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
	"quizroom-service/internal/auth"
	"quizroom-service/internal/domain"
)

// TokenVerifier turns a session token into a participant identity.
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// Options tunes the WebSocket handler.
type Options struct {
	CookieName string
	OutboxSize int
	// AllowedOrigins lists browser origins (scheme://host[:port]) permitted
	// besides the server's own host. "*" allows any origin.
	AllowedOrigins []string
}

type WSHandler struct {
	service  *app.RoomService
	verifier TokenVerifier
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.RoomService, verifier TokenVerifier, logger *zap.Logger, opts Options) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 64
	}
	h := &WSHandler{
		service:  service,
		verifier: verifier,
		opts:     opts,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

// originAllowed accepts non-browser clients (no Origin header), same-host
// pages, and the configured origins. The session cookie is sent on
// cross-site handshakes too, so anything else is refused.
func (h *WSHandler) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	normalized := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, allowed := range h.opts.AllowedOrigins {
		allowed = strings.ToLower(strings.TrimRight(strings.TrimSpace(allowed), "/"))
		if allowed == "*" || allowed == normalized {
			return true
		}
	}
	return false
}

type inboundMessage struct {
	Command domain.Command  `json:"command"`
	Data    json.RawMessage `json:"data"`
}

// ServeWS authenticates the request, upgrades it and attaches the connection
// to the room named in the path.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}
	if !h.originAllowed(r) {
		h.logger.Info("ws origin rejected", zap.String("room", roomID), zap.String("origin", r.Header.Get("Origin")))
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	id, err := h.verifier.Verify(auth.TokenFromRequest(r, h.opts.CookieName))
	if err != nil {
		h.logger.Info("ws authentication failed", zap.String("room", roomID), zap.Error(err))
		http.Error(w, domain.Code(domain.ErrAuthenticationFailure), http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	log := h.logger.With(zap.String("room", roomID), zap.String("participant", id.ParticipantID))
	conn := newConnection(ws, h.opts.OutboxSize, log)
	go conn.writeLoop()

	joined, err := h.service.Join(r.Context(), roomID, id, conn)
	if err != nil {
		conn.Deliver(errorEvent("", err))
		conn.Close()
		conn.wait()
		return
	}
	log = log.With(zap.String("conn", joined.ConnID))

	h.readLoop(r, ws, conn, roomID, id.ParticipantID, joined.ConnID, log)

	h.service.Disconnect(r.Context(), roomID, id.ParticipantID, joined.ConnID)
	conn.Close()
	conn.wait()
}

func (h *WSHandler) readLoop(r *http.Request, ws *websocket.Conn, conn *connection, roomID, participantID, connID string, log *zap.Logger) {
	ws.SetReadLimit(maxMessage)
	_ = ws.SetReadDeadline(timeNow().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(timeNow().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws read ended", zap.Error(err))
			}
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Command == "" {
			if !conn.Deliver(errorEvent("", domain.ErrInvalidPayload)) {
				return
			}
			continue
		}
		err = h.service.Dispatch(r.Context(), roomID, participantID, connID, msg.Command, msg.Data)
		if msg.Command == domain.CmdLeaveRoom && err == nil {
			return
		}
		if err != nil {
			if errors.Is(err, domain.ErrTransportFailure) {
				return
			}
			if !conn.Deliver(errorEvent(msg.Command, err)) {
				return
			}
		}
	}
}

// errorEvent reports a rejected command to its sender only. It carries no
// room sequence number.
func errorEvent(cmd domain.Command, err error) domain.Event {
	return domain.Event{
		Type:     domain.EvtError,
		Version:  domain.ProtocolVersion,
		Datetime: timeNow().Format("2006-01-02 15:04:05"),
		Message:  err.Error(),
		Command:  cmd,
		Code:     domain.Code(err),
	}
}
