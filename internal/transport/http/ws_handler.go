package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"musiguess/internal/app"
	"musiguess/internal/domain"
	"musiguess/internal/monitoring"
)

const (
	maxMessageBytes = 4096
	messagesPerSec  = 5
	messageBurst    = 10
)

// WSHandler attaches one coordinator per websocket connection.
type WSHandler struct {
	service  *app.GameService
	deps     app.CoordinatorDeps
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
}

// NewWSHandler builds the gateway. deps is the template every connection's coordinator is
// built from.
func NewWSHandler(service *app.GameService, deps app.CoordinatorDeps) *WSHandler {
	return &WSHandler{
		service: service,
		deps:    deps,
		metrics: deps.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type guessPayload struct {
	Selection string `json:"selection"`
}

type joinedPayload struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
}

type guessResult struct {
	Selection   string           `json:"selection"`
	IsCorrect   bool             `json:"isCorrect"`
	ScoreDelta  int              `json:"scoreDelta"`
	SpeedTier   domain.SpeedTier `json:"speedTier"`
	StreakBonus int              `json:"streakBonus"`
	Streak      int              `json:"streak"`
	Duplicate   bool             `json:"duplicate"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request, joins the participant to the room and streams its local view.
//
//	/ws?roomId=ABC123&participantId=...&name=...
//
// participantId is issued when absent and echoed in the joined message.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	participantID := r.URL.Query().Get("participantId")
	displayName := r.URL.Query().Get("name")
	if roomID == "" {
		http.Error(w, "missing roomId", http.StatusBadRequest)
		return
	}
	if participantID == "" {
		participantID = uuid.NewString()
	}
	if !domain.ValidParticipantID(participantID) {
		http.Error(w, domain.ErrInvalidParticipant.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageBytes)

	logger := log.With().Str("room_id", roomID).Str("participant_id", participantID).Logger()

	if _, err := h.service.Join(r.Context(), roomID, participantID, displayName); err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	coordinator := app.NewCoordinator(roomID, participantID, h.deps)
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		err := coordinator.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).Msg("coordinator stopped")
		closeMsg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "room closed")
		_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	enqueue := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	enqueue(outboundMessage[any]{Type: "joined", Payload: joinedPayload{RoomID: roomID, ParticipantID: participantID}})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case view, ok := <-coordinator.Updates():
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "view", Payload: view}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	limiter := rate.NewLimiter(messagesPerSec, messageBurst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		label := messageLabel(inbound.Type)
		if !limiter.Allow() {
			h.metrics.WSMessage(label, "limited")
			enqueue(errorMessage("too many messages"))
			continue
		}
		reply, err := h.dispatch(ctx, coordinator, roomID, participantID, inbound)
		if err != nil {
			h.metrics.WSMessage(label, "error")
			enqueue(errorMessage(err.Error()))
			continue
		}
		h.metrics.WSMessage(label, "ok")
		if reply != nil {
			enqueue(*reply)
		}
	}

	close(closeSignals)
	cancel()
	<-runDone
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) dispatch(ctx context.Context, coordinator *app.Coordinator, roomID, participantID string, inbound inboundMessage) (*outboundMessage[any], error) {
	switch inbound.Type {
	case "guess":
		var payload guessPayload
		if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.Selection == "" {
			return nil, errInvalidPayload
		}
		outcome, err := coordinator.SubmitGuess(ctx, payload.Selection)
		if err != nil {
			return nil, err
		}
		return &outboundMessage[any]{Type: "guessResult", Payload: guessResult{
			Selection:   outcome.Record.Selection,
			IsCorrect:   outcome.Record.IsCorrect,
			ScoreDelta:  outcome.Record.ScoreDelta,
			SpeedTier:   outcome.Record.SpeedTier,
			StreakBonus: outcome.Record.StreakBonus,
			Streak:      outcome.Streak,
			Duplicate:   outcome.Duplicate,
		}}, nil
	case "ready":
		return nil, coordinator.Vote(ctx)
	case "start":
		return nil, h.service.StartGame(ctx, roomID, participantID)
	default:
		return nil, errUnsupportedMessage
	}
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

func messageLabel(msgType string) string {
	switch msgType {
	case "guess", "ready", "start":
		return msgType
	}
	return "unknown"
}
