package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/broadcast"
	"github.com/dgnsrekt/livetiming-relay/internal/ingest"
	"github.com/dgnsrekt/livetiming-relay/internal/signalr"
	"github.com/dgnsrekt/livetiming-relay/internal/snapshot"
)

// Connection tokens handed out when the relay serves simulated data.
const (
	SimulationToken         = "simulation-token"
	SimulationID            = "simulation-id"
	SimulationFallbackToken = "simulation-token-fallback"
	SimulationFallbackID    = "simulation-id-fallback"
)

// WebSocketBanner answers plain GET requests on the WebSocket endpoints.
const WebSocketBanner = "WebSocket endpoint active. Connect using a WebSocket client."

// Simulator starts and stops the synthetic feed.
type Simulator interface {
	Active() bool
	Start() bool
	Stop() bool
}

// Negotiator performs an upstream negotiate request.
type Negotiator interface {
	Negotiate(ctx context.Context) (*signalr.Negotiation, error)
}

// Upstream reports the live stream client's state.
type Upstream interface {
	State() signalr.State
	Since() time.Time
	Sessions() uint64
}

// Deps are the components the HTTP surface reads from and drives.
// Negotiator, Upstream and Refresher are nil when the corresponding feature
// is disabled.
type Deps struct {
	Pipeline   *ingest.Pipeline
	Hub        *broadcast.Hub
	Simulator  Simulator
	Negotiator Negotiator
	Upstream   Upstream
	Refresher  *Refresher
}

type Server struct {
	pipeline   *ingest.Pipeline
	hub        *broadcast.Hub
	sim        Simulator
	negotiator Negotiator
	upstream   Upstream
	refresher  *Refresher
	logger     *zap.Logger
}

func NewServer(deps Deps, logger *zap.Logger) *Server {
	return &Server{
		pipeline:   deps.Pipeline,
		hub:        deps.Hub,
		sim:        deps.Simulator,
		negotiator: deps.Negotiator,
		upstream:   deps.Upstream,
		refresher:  deps.Refresher,
		logger:     logger,
	}
}

type NegotiateResponse struct {
	ConnectionToken string `json:"ConnectionToken"`
	ConnectionID    string `json:"ConnectionId"`
}

type UpstreamStatus struct {
	State    string    `json:"state"`
	Since    time.Time `json:"since"`
	Sessions uint64    `json:"sessions"`
}

type ArchiveStatus struct {
	SessionPath string     `json:"sessionPath"`
	LoadedAt    *time.Time `json:"loadedAt,omitempty"`
}

type StatusResponse struct {
	SimulationActive bool            `json:"simulationActive"`
	WSClients        int             `json:"wsClients"`
	SSEClients       int             `json:"sseClients"`
	DataAvailable    bool            `json:"dataAvailable"`
	Topics           int             `json:"topics"`
	RecentUpdates    int             `json:"recentUpdates"`
	LastUpdate       *time.Time      `json:"lastUpdate,omitempty"`
	Upstream         *UpstreamStatus `json:"upstream,omitempty"`
	Archive          *ArchiveStatus  `json:"archive,omitempty"`
}

type MessageResponse struct {
	Status   string   `json:"status"`
	Message  string   `json:"message,omitempty"`
	Repaired []string `json:"repaired,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

type RecentResponse struct {
	Count   int               `json:"count"`
	Updates []broadcast.Entry `json:"updates"`
}

// Compile-time interface verification
var _ StrictServerInterface = (*Server)(nil)

// Negotiate returns upstream connection details, or simulation tokens when
// simulation is requested or the upstream cannot be reached. A successful
// upstream negotiate stops the simulation.
func (s *Server) Negotiate(ctx context.Context, request NegotiateRequestObject) (NegotiateResponseObject, error) {
	if sim := request.Params.Simulation; sim != nil && *sim {
		s.startSimulation()
		return Negotiate200JSONResponse{Body: NegotiateResponse{ConnectionToken: SimulationToken, ConnectionID: SimulationID}}, nil
	}

	fallback := Negotiate200JSONResponse{Body: NegotiateResponse{ConnectionToken: SimulationFallbackToken, ConnectionID: SimulationFallbackID}}
	if s.negotiator == nil {
		s.startSimulation()
		return fallback, nil
	}

	neg, err := s.negotiator.Negotiate(ctx)
	if err != nil {
		s.logger.Warn("upstream negotiation failed, falling back to simulation", zap.Error(err))
		s.startSimulation()
		return fallback, nil
	}

	if s.sim.Stop() {
		s.logger.Info("simulation stopped after successful negotiation")
	}
	return Negotiate200JSONResponse{
		Body:    NegotiateResponse{ConnectionToken: neg.ConnectionToken, ConnectionID: neg.ConnectionID},
		Headers: Negotiate200ResponseHeaders{SetCookie: neg.SetCookie},
	}, nil
}

func (s *Server) startSimulation() {
	if s.sim.Start() {
		s.logger.Info("simulation started")
	}
}

// GetStatus reports simulation state, client counts and data availability.
func (s *Server) GetStatus(ctx context.Context, request GetStatusRequestObject) (GetStatusResponseObject, error) {
	counts := s.hub.Counts()
	store := s.pipeline.Store()

	resp := GetStatus200JSONResponse{
		SimulationActive: s.sim.Active(),
		WSClients:        counts[broadcast.TransportWebSocket],
		SSEClients:       counts[broadcast.TransportSSE],
		DataAvailable:    store.Len() > 0,
		Topics:           store.Len(),
		RecentUpdates:    len(s.hub.Recent()),
	}
	if t := store.UpdatedAt(); !t.IsZero() {
		resp.LastUpdate = &t
	}
	if s.upstream != nil {
		resp.Upstream = &UpstreamStatus{
			State:    s.upstream.State().String(),
			Since:    s.upstream.Since(),
			Sessions: s.upstream.Sessions(),
		}
	}
	if s.refresher != nil {
		resp.Archive = &ArchiveStatus{SessionPath: s.refresher.SessionPath()}
		if t := s.refresher.LoadedAt(); !t.IsZero() {
			resp.Archive.LoadedAt = &t
		}
	}
	return resp, nil
}

// GetInitialData returns the whole snapshot as {"R": {...}}.
func (s *Server) GetInitialData(ctx context.Context, request GetInitialDataRequestObject) (GetInitialDataResponseObject, error) {
	block := s.pipeline.Store().All()
	if block == nil {
		block = snapshot.ReferenceBlock{}
	}
	return GetInitialData200JSONResponse{R: block}, nil
}

// ToggleSimulation starts or stops the simulation according to {"enable": bool}.
func (s *Server) ToggleSimulation(ctx context.Context, request ToggleSimulationRequestObject) (ToggleSimulationResponseObject, error) {
	if request.Body == nil {
		return ToggleSimulation400JSONResponse{Error: "invalid request body", Message: "missing body"}, nil
	}
	enable := request.Body.Enable

	var status string
	switch {
	case enable && s.sim.Start():
		status = "Simulation started"
	case !enable && s.sim.Stop():
		status = "Simulation stopped"
	case s.sim.Active():
		status = "Simulation already running"
	default:
		status = "Simulation already stopped"
	}

	s.logger.Info("simulation toggled", zap.Bool("enable", enable), zap.String("status", status))
	return ToggleSimulation200JSONResponse{Status: status}, nil
}

// FixData repairs character-array values in the snapshot. It runs on the
// ingestion goroutine so it never races a merge.
func (s *Server) FixData(ctx context.Context, request FixDataRequestObject) (FixDataResponseObject, error) {
	var repaired []string
	err := s.pipeline.Do(ctx, func(store *snapshot.Store) {
		repaired = store.Repair()
	})
	if err != nil {
		s.logger.Error("fixing data", zap.Error(err))
		return FixData500JSONResponse{Error: "Failed to fix data", Message: err.Error()}, nil
	}

	if len(repaired) > 0 {
		s.logger.Info("snapshot repaired", zap.Strings("topics", repaired))
	}
	return FixData200JSONResponse{
		Status:   "ok",
		Message:  "Data structure fixed successfully",
		Repaired: repaired,
	}, nil
}

// GetRecent returns the recent-update buffer, oldest first.
func (s *Server) GetRecent(ctx context.Context, request GetRecentRequestObject) (GetRecentResponseObject, error) {
	updates := s.hub.Recent()
	return GetRecent200JSONResponse{Count: len(updates), Updates: updates}, nil
}

// Reload re-seeds the snapshot from the archive, optionally switching session.
func (s *Server) Reload(ctx context.Context, request ReloadRequestObject) (ReloadResponseObject, error) {
	if s.refresher == nil {
		return Reload503JSONResponse{Error: "archive bootstrap is disabled"}, nil
	}

	var sessionPath string
	if request.Body != nil {
		sessionPath = request.Body.SessionPath
	}

	result, err := s.refresher.Refresh(ctx, sessionPath)
	switch {
	case errors.Is(err, ErrReloadInProgress):
		return Reload409JSONResponse{Error: err.Error()}, nil
	case err != nil:
		s.logger.Warn("reload failed", zap.Error(err))
		return Reload502JSONResponse{Error: "reload failed", Message: err.Error()}, nil
	}
	return Reload200JSONResponse(*result), nil
}

// GetHealth is a liveness check.
func (s *Server) GetHealth(ctx context.Context, request GetHealthRequestObject) (GetHealthResponseObject, error) {
	return GetHealth200JSONResponse{Status: "ok"}, nil
}

// WebSocket upgrades the request and streams the snapshot followed by every
// update. Plain requests get a text banner.
func (s *Server) WebSocket(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, WebSocketBanner)
		return
	}
	s.hub.ServeWS(w, r, s.initialMessage())
}

// Events streams the snapshot followed by every update as Server-Sent Events.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeSSE(w, r, s.initialMessage())
}

func (s *Server) initialMessage() []byte {
	msg, err := s.pipeline.Bootstrap()
	if err != nil {
		s.logger.Error("encoding bootstrap message", zap.Error(err))
		return nil
	}
	return msg
}
