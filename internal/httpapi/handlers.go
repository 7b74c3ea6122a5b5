package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jssehgal/ride-share-office/internal/cache"
	"github.com/jssehgal/ride-share-office/internal/config"
	"github.com/jssehgal/ride-share-office/internal/ingest"
	"github.com/jssehgal/ride-share-office/internal/lifecycle"
	"github.com/jssehgal/ride-share-office/internal/match"
	"github.com/jssehgal/ride-share-office/internal/models"
	"github.com/jssehgal/ride-share-office/internal/notify"
	"github.com/jssehgal/ride-share-office/internal/observability"
	"github.com/jssehgal/ride-share-office/internal/session"
	"github.com/jssehgal/ride-share-office/internal/store"
)

type Server struct {
	Controller *lifecycle.Controller
	Engine     *match.Engine
	Rides      store.RideStore
	Requests   store.RequestStore
	Session    session.Adapter
	Kafka      *ingest.KafkaProducer
	Notifier   notify.Notifier
	WSReg      *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

// NewServer wires explicit dependencies; used directly by tests.
func NewServer(ctrl *lifecycle.Controller, eng *match.Engine, rides store.RideStore, requests store.RequestStore, sess session.Adapter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	wsreg := notify.NewWSRegistry()
	s := &Server{
		Controller: ctrl,
		Engine:     eng,
		Rides:      rides,
		Requests:   requests,
		Session:    sess,
		Notifier:   notify.NewPushNotifier("", wsreg),
		WSReg:      wsreg,
		logger:     logger,
		mux:        mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerFromConfig builds the production wiring: Postgres when a DSN is
// set (in-memory otherwise), the Redis ride view as the search snapshot
// with a store fallback, Kafka lifecycle events, and the HTTP session
// provider.
func NewServerFromConfig(cfg config.ServerConfig, logger *slog.Logger) (*Server, error) {
	var rides store.RideStore
	var requests store.RequestStore
	if cfg.PGDSN != "" {
		ps, err := store.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		rides = ps
		requests = ps.Requests()
	} else {
		rides = store.NewMemoryRideStore()
		requests = store.NewMemoryRequestStore()
	}

	var lister match.Lister = rideLister{rides}
	if cfg.RedisAddr != "" {
		rc := cache.NewRideCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisRidesKey)
		lister = &cache.FallbackLister{Primary: rc, Fallback: rideLister{rides}}
	}

	var sess session.Adapter
	if cfg.SessionEndpoint != "" {
		sess = session.NewHTTPAdapter(cfg.SessionEndpoint, cfg.SessionTimeout)
	} else {
		sess = session.NewStaticAdapter()
	}

	ctrl := lifecycle.NewController(rides, requests, logger, lifecycle.Policy{
		AutoAcceptOnRelease: cfg.AutoAcceptOnRelease,
		RetryAttempts:       cfg.AcceptRetryAttempts,
	})

	s := NewServer(ctrl, match.NewEngine(lister), rides, requests, sess, logger)
	if len(cfg.KafkaBrokers) > 0 {
		s.Kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	s.Notifier = notify.NewPushNotifier(cfg.PushEndpoint, s.WSReg)
	return s, nil
}

// rideLister adapts the canonical store to the match.Lister shape.
type rideLister struct{ rides store.RideStore }

func (l rideLister) List(ctx context.Context) ([]models.Ride, error) { return l.rides.List(ctx) }

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/rides", s.handleCreateRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/search", s.handleSearch).Methods("GET")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/requests", s.handleSubmitRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/cancel", s.handleCancelRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/rides/{ride_id}/complete", s.handleCompleteRide).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/accept", s.handleAccept).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/reject", s.handleReject).Methods("POST")
	s.mux.HandleFunc("/api/v1/requests/{request_id}/cancel", s.handleCancelRequest).Methods("POST")
	s.mux.HandleFunc("/api/v1/users/me/rides", s.handleMyRides).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	var draft models.RideDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeError(w, &models.ValidationError{Field: "body", Reason: "malformed JSON"})
		return
	}
	ride, err := s.Controller.CreateRide(r.Context(), *user, draft)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publish(models.EventRideCreated, *ride)
	writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := models.SearchQuery{
		StartLocation: r.URL.Query().Get("from"),
		Destination:   r.URL.Query().Get("to"),
		DepartureTime: r.URL.Query().Get("departure_time"),
		MaxPrice:      r.URL.Query().Get("max_price"),
	}
	rides, err := s.Engine.Search(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	observability.Searches.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"rides": rides, "count": len(rides)})
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	rideID := mux.Vars(r)["ride_id"]
	req, err := s.Controller.SubmitRequest(r.Context(), rideID, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if ride, rerr := s.Rides.Get(r.Context(), rideID); rerr == nil {
		_ = s.Notifier.Notify(ride.OwnerID, models.Notification{
			Type: "request_submitted", RideID: rideID, RequestID: req.ID,
			Message: user.Name + " wants to join your ride",
		})
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	s.handleRequestAction(w, r, s.Controller.Accept, "request_accepted", "Your seat was confirmed")
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.handleRequestAction(w, r, s.Controller.Reject, "request_rejected", "Your request was declined")
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	s.handleRequestAction(w, r, s.Controller.CancelRequest, "request_cancelled", "The request was cancelled")
}

type requestAction func(ctx context.Context, requestID, actorID string) (*models.JoinRequest, error)

func (s *Server) handleRequestAction(w http.ResponseWriter, r *http.Request, action requestAction, eventType, message string) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	requestID := mux.Vars(r)["request_id"]
	req, err := action(r.Context(), requestID, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user.ID != req.RequesterID {
		_ = s.Notifier.Notify(req.RequesterID, models.Notification{
			Type: eventType, RideID: req.RideID, RequestID: req.ID, Message: message,
		})
	}
	if ride, rerr := s.Rides.Get(r.Context(), req.RideID); rerr == nil {
		s.publish(models.EventRideUpdated, *ride)
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	rideID := mux.Vars(r)["ride_id"]
	ride, err := s.Controller.CancelRide(r.Context(), rideID, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publish(models.EventRideCancelled, *ride)
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	rideID := mux.Vars(r)["ride_id"]
	ride, err := s.Controller.CompleteRide(r.Context(), rideID, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.publish(models.EventRideCompleted, *ride)
	writeJSON(w, http.StatusOK, ride)
}

// handleMyRides aggregates the caller's offered rides and join requests for
// the dashboard view.
func (s *Server) handleMyRides(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(w, r)
	if !ok {
		return
	}
	all, err := s.Rides.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	offered := make([]models.Ride, 0)
	for _, ride := range all {
		if ride.OwnerID == user.ID {
			offered = append(offered, ride)
		}
	}
	reqs, err := s.Requests.ListByRequester(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	type requestView struct {
		Request models.JoinRequest `json:"request"`
		Ride    *models.Ride       `json:"ride,omitempty"`
	}
	views := make([]requestView, 0, len(reqs))
	for _, req := range reqs {
		v := requestView{Request: req}
		if ride, rerr := s.Rides.Get(r.Context(), req.RideID); rerr == nil {
			v.Ride = ride
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"offered": offered, "requests": views})
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["user_id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	s.WSReg.Add(id, conn)
	// drain the connection so peer close evicts the session instead of
	// leaving a dead registration behind
	go func() {
		defer func() {
			s.WSReg.Remove(id)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// currentUser resolves the bearer token through the session provider. A
// missing or unknown token is a 401; a provider failure (timeout included)
// fails the operation with a 502 instead of proceeding unverified.
func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing bearer token"})
		return nil, false
	}
	user, err := s.Session.CurrentUser(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "no active session"})
		} else {
			s.logger.Error("session lookup failed", "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "session provider unavailable"})
		}
		return nil, false
	}
	return user, true
}

func (s *Server) publish(eventType string, ride models.Ride) {
	if s.Kafka == nil {
		return
	}
	if err := s.Kafka.PublishRideEvent(eventType, ride); err != nil {
		s.logger.Warn("event publish failed", "type", eventType, "ride_id", ride.ID, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto HTTP statuses. Business-rule
// rejections surface verbatim; infrastructure failures collapse to 503.
func writeError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var se *store.StoreError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrNotAuthorized):
		status = http.StatusForbidden
	case errors.Is(err, lifecycle.ErrSelfRequest):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrDuplicateRequest),
		errors.Is(err, lifecycle.ErrRideUnavailable),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrDuplicate):
		status = http.StatusConflict
	case errors.As(err, &se):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
