package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harrylevesque/equipscan/internal/auth"
	"github.com/harrylevesque/equipscan/internal/config"
	"github.com/harrylevesque/equipscan/internal/events"
	"github.com/harrylevesque/equipscan/internal/inventory"
	"github.com/harrylevesque/equipscan/internal/labels"
	"github.com/harrylevesque/equipscan/internal/metrics"
	"github.com/harrylevesque/equipscan/internal/utils"
	"github.com/harrylevesque/equipscan/internal/web"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Config    *config.Config
	Inventory *inventory.Service
	Auth      *auth.Authenticator
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Labels    *labels.Cache
	Logger    *slog.Logger
	Station   string
}

type Server struct {
	cfg       *config.Config
	inventory *inventory.Service
	auth      *auth.Authenticator
	publisher events.Publisher
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	labels    *labels.Cache
	logger    *slog.Logger
	station   string
	upgrader  websocket.Upgrader
}

func NewServer(d Deps) *Server {
	s := &Server{
		cfg:       d.Config,
		inventory: d.Inventory,
		auth:      d.Auth,
		publisher: d.Publisher,
		metrics:   d.Metrics,
		gatherer:  d.Gatherer,
		labels:    d.Labels,
		logger:    utils.OrDefault(d.Logger),
		station:   d.Station,
	}
	if s.cfg == nil {
		s.cfg = config.DefaultConfig()
	}
	if s.auth == nil {
		s.auth = auth.New(nil)
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	if s.labels == nil {
		s.labels = labels.NewCache(256)
	}
	if s.station == "" {
		s.station = utils.StationID()
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	protect := s.auth.Middleware

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			s.logger.Debug("Health write failed", "error", err)
		}
	}).Methods("GET")
	r.HandleFunc("/time", GetTimeHandler).Methods("GET")
	r.HandleFunc("/api/station", s.GetStationHandler).Methods("GET")

	r.HandleFunc("/api/equipment", s.ListEquipmentHandler).Methods("GET")
	r.Handle("/api/equipment", protect(http.HandlerFunc(s.CreateEquipmentHandler))).Methods("POST")
	r.HandleFunc("/api/equipment/lookup", s.LookupHandler).Methods("GET")
	r.HandleFunc("/api/equipment/{id}", s.GetEquipmentHandler).Methods("GET")
	r.Handle("/api/equipment/{id}/borrow", protect(http.HandlerFunc(s.BorrowHandler))).Methods("POST")
	r.Handle("/api/equipment/{id}/return", protect(http.HandlerFunc(s.ReturnHandler))).Methods("POST")
	r.Handle("/api/equipment/{id}/assign", protect(http.HandlerFunc(s.AssignHandler))).Methods("POST")
	r.Handle("/api/equipment/{id}/unassign", protect(s.transitionHandler("unassign", s.inventory.Unassign))).Methods("POST")
	r.Handle("/api/equipment/{id}/lost", protect(s.transitionHandler("lost", s.inventory.MarkLost))).Methods("POST")
	r.Handle("/api/equipment/{id}/found", protect(s.transitionHandler("found", s.inventory.MarkFound))).Methods("POST")
	r.Handle("/api/equipment/{id}/retire", protect(s.transitionHandler("retire", s.inventory.Retire))).Methods("POST")
	r.Handle("/api/equipment/{id}/maintenance/start", protect(s.transitionHandler("maintenance_start", s.inventory.StartMaintenance))).Methods("POST")
	r.Handle("/api/equipment/{id}/maintenance/complete", protect(s.transitionHandler("maintenance_complete", s.inventory.CompleteMaintenance))).Methods("POST")
	r.HandleFunc("/api/equipment/{id}/loans", s.LoansHandler).Methods("GET")
	r.HandleFunc("/api/equipment/{id}/label.png", s.LabelHandler).Methods("GET")

	r.Handle("/ws/scanner", protect(http.HandlerFunc(s.ScannerSocketHandler))).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.Handle("/", web.IndexHandler()).Methods("GET")
	r.Handle("/index.html", web.IndexHandler()).Methods("GET")
	r.PathPrefix("/static/").Handler(web.StaticHandler()).Methods("GET")
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("Request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// checkOrigin accepts same-origin upgrades plus server.allowed_origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.cfg.Server.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
