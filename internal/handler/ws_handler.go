package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	pkglog "github.com/EvinKlif/radio/pkg/log"

	"github.com/EvinKlif/radio/internal/broadcast"
	"github.com/EvinKlif/radio/internal/domain"
	"github.com/EvinKlif/radio/internal/engine"
	"github.com/EvinKlif/radio/internal/hub"
	"github.com/EvinKlif/radio/internal/session"
	"github.com/EvinKlif/radio/internal/source"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Listeners connect from any origin
	},
}

// WSHandler accepts listener connections and routes their signaling
// requests into the session state machine.
type WSHandler struct {
	hub         *hub.Hub
	eng         engine.Engine
	sourceMgr   *source.Manager
	coordinator *broadcast.Coordinator
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(h *hub.Hub, eng engine.Engine, src *source.Manager, coord *broadcast.Coordinator) *WSHandler {
	return &WSHandler{
		hub:         h,
		eng:         eng,
		sourceMgr:   src,
		coordinator: coord,
	}
}

// HandleWebSocket handles WebSocket upgrade, session creation, and the
// connect-time capability announcement.
func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	l := pkglog.L()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	clientID := uuid.New().String()
	client := h.hub.NewClient(clientID, conn)
	client.Session = session.New(clientID, h.eng, h.sourceMgr, client)

	client.SetDisconnectHandler(func(c *hub.Client) {
		h.coordinator.Unregister(c.ID)
		if err := c.Session.Close(); err != nil {
			l.Error().Err(err).Str(pkglog.FieldSessionID, c.ID).Msg("session teardown error")
		}
	})

	h.hub.Register(client)
	h.coordinator.Register(client.Session)

	go client.WritePump()
	go client.ReadPump(h.handleMessage)

	client.Session.AnnounceCapabilities()
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorResponse(0, domain.ErrTextBadRequest))
		return
	}

	ctx := context.Background()
	sess := client.Session

	switch base.Type {
	case domain.MsgTypeCreateTransport:
		params, err := sess.CreateTransport(ctx)
		if err != nil {
			h.reply(client, base.ID, nil, err)
			return
		}
		h.reply(client, base.ID, params, nil)

	case domain.MsgTypeConnectTransport:
		var data domain.ConnectTransportData
		if err := json.Unmarshal(base.Data, &data); err != nil {
			client.SendMessage(domain.NewErrorResponse(base.ID, domain.ErrTextBadRequest))
			return
		}
		err := sess.ConnectTransport(ctx, engine.ConnectParams{DTLS: data.DTLS})
		h.reply(client, base.ID, domain.SuccessData{Success: true}, err)

	case domain.MsgTypeConsume:
		var data domain.ConsumeData
		if err := json.Unmarshal(base.Data, &data); err != nil {
			client.SendMessage(domain.NewErrorResponse(base.ID, domain.ErrTextBadRequest))
			return
		}
		params, err := sess.Consume(ctx, data.RTPCapabilities)
		if err != nil {
			h.reply(client, base.ID, nil, err)
			return
		}
		h.reply(client, base.ID, params, nil)

	case domain.MsgTypeForceRecreateIngest:
		err := h.sourceMgr.ForceRecreate(ctx)
		h.reply(client, base.ID, domain.SuccessData{Success: true}, err)

	default:
		client.SendMessage(domain.NewErrorResponse(base.ID, domain.ErrTextUnknownType))
	}
}

// reply sends the response for a request, mapping internal errors to
// their wire strings.
func (h *WSHandler) reply(client *hub.Client, id uint64, data interface{}, err error) {
	if err == nil {
		client.SendMessage(domain.NewResponse(id, data))
		return
	}

	pkglog.L().Debug().Err(err).Str(pkglog.FieldSessionID, client.ID).Msg("request failed")
	client.SendMessage(domain.NewErrorResponse(id, errorText(err)))
}

func errorText(err error) string {
	switch {
	case errors.Is(err, engine.ErrProducerUnavailable):
		return domain.ErrTextProducerUnavailable
	case errors.Is(err, engine.ErrIncompatibleCapabilities):
		return domain.ErrTextCannotConsume
	default:
		return err.Error()
	}
}

// RegisterRoutes registers the WebSocket route.
func (h *WSHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleWebSocket)
}
