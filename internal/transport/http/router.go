package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"musiguess/internal/app"
	"musiguess/internal/domain"
	"musiguess/internal/monitoring"
)

var (
	errInvalidPayload     = errors.New("invalid message payload")
	errUnsupportedMessage = errors.New("unsupported message type")
)

// ResultReader looks up the final leaderboard of a finished room.
type ResultReader interface {
	Result(ctx context.Context, roomID string) (domain.GameResult, error)
}

// API serves the lobby endpoints next to the websocket gateway.
type API struct {
	service *app.GameService
	results ResultReader
}

func NewAPI(service *app.GameService, results ResultReader) *API {
	return &API{service: service, results: results}
}

type createRoomRequest struct {
	HostID     string            `json:"hostId"`
	HostName   string            `json:"hostName"`
	Artist     string            `json:"artist"`
	Mode       domain.Mode       `json:"mode"`
	Difficulty domain.Difficulty `json:"difficulty"`
}

type joinRoomRequest struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

type startGameRequest struct {
	ParticipantID string `json:"participantId"`
}

type roomResponse struct {
	ParticipantID string      `json:"participantId,omitempty"`
	Room          roomSummary `json:"room"`
}

// roomSummary is the lobby view of a room; songs are left out so answers stay hidden.
type roomSummary struct {
	ID          string                    `json:"id"`
	HostID      string                    `json:"hostId"`
	Artist      string                    `json:"artist"`
	Mode        domain.Mode               `json:"mode"`
	Difficulty  domain.Difficulty         `json:"difficulty"`
	Status      domain.Status             `json:"status"`
	Round       int                       `json:"round"`
	Leaderboard []domain.LeaderboardEntry `json:"leaderboard"`
}

func summarize(room domain.Room) roomSummary {
	return roomSummary{
		ID:          room.ID,
		HostID:      room.HostID,
		Artist:      room.Artist,
		Mode:        room.Mode,
		Difficulty:  room.Difficulty,
		Status:      room.Status,
		Round:       room.CurrentRoundIndex,
		Leaderboard: room.Leaderboard(),
	}
}

func (a *API) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.HostID == "" {
		req.HostID = uuid.NewString()
	}
	room, err := a.service.CreateRoom(r.Context(), req.HostID, req.HostName, req.Artist, req.Mode, req.Difficulty)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roomResponse{ParticipantID: req.HostID, Room: summarize(room)})
}

func (a *API) joinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParticipantID == "" {
		req.ParticipantID = uuid.NewString()
	}
	room, err := a.service.Join(r.Context(), r.PathValue("id"), req.ParticipantID, req.Name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{ParticipantID: req.ParticipantID, Room: summarize(room)})
}

func (a *API) startGame(w http.ResponseWriter, r *http.Request) {
	var req startGameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !domain.ValidParticipantID(req.ParticipantID) {
		writeError(w, http.StatusBadRequest, "valid participantId is required")
		return
	}
	if err := a.service.StartGame(r.Context(), r.PathValue("id"), req.ParticipantID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) getRoom(w http.ResponseWriter, r *http.Request) {
	room, err := a.service.Room(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{Room: summarize(room)})
}

func (a *API) getResult(w http.ResponseWriter, r *http.Request) {
	if a.results == nil {
		writeError(w, http.StatusNotFound, "results are not stored")
		return
	}
	result, err := a.results.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		log.Debug().Err(err).Str("room_id", r.PathValue("id")).Msg("load result")
		writeError(w, http.StatusNotFound, "result not found")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) searchArtists(w http.ResponseWriter, r *http.Request) {
	artists, err := a.service.SearchArtists(r.Context(), r.URL.Query().Get("term"))
	if err != nil {
		log.Error().Err(err).Msg("search artists")
		writeError(w, http.StatusBadGateway, "artist search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"artists": artists})
}

// NewRouter mounts the lobby API, the websocket gateway, health and metrics behind CORS.
func NewRouter(api *API, ws *WSHandler, metrics *monitoring.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}
	mux.HandleFunc("/ws", ws.ServeWS)
	mux.HandleFunc("POST /rooms", api.createRoom)
	mux.HandleFunc("GET /rooms/{id}", api.getRoom)
	mux.HandleFunc("POST /rooms/{id}/join", api.joinRoom)
	mux.HandleFunc("POST /rooms/{id}/start", api.startGame)
	mux.HandleFunc("GET /rooms/{id}/result", api.getResult)
	mux.HandleFunc("GET /artists", api.searchArtists)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(mux)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Message: msg})
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNotHost):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrRoomFull),
		errors.Is(err, domain.ErrGameInProgress),
		errors.Is(err, domain.ErrNotEnoughPlayers),
		errors.Is(err, domain.ErrRoomExists):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientCatalog):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidRoomSettings),
		errors.Is(err, domain.ErrInvalidParticipant):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}
