package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/harrylevesque/equipscan/internal/labels"
	"github.com/harrylevesque/equipscan/internal/models"
	"github.com/harrylevesque/equipscan/internal/utils"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// GetTimeHandler returns the current server time in RFC3339 format
func GetTimeHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"time": time.Now().Format(time.RFC3339)})
}

// GetStationHandler returns the station id and the device fingerprints it is derived from
func (s *Server) GetStationHandler(w http.ResponseWriter, r *http.Request) {
	ids, err := utils.GetDeviceFingerprints()
	resp := map[string]any{
		"station":             s.station,
		"device_fingerprints": ids,
	}
	if err != nil || len(ids) == 0 {
		resp["device_fingerprints"] = []string{}
		if err != nil {
			resp["error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ===== Equipment =====

func (s *Server) ListEquipmentHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.inventory.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) CreateEquipmentHandler(w http.ResponseWriter, r *http.Request) {
	var e models.Equipment
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&e); err != nil {
		s.writeError(w, utils.BadRequest("invalid JSON body"))
		return
	}
	// Server-owned fields.
	e.ID = ""
	e.State = ""
	e.Custodian = ""
	if err := s.inventory.Create(r.Context(), &e); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) GetEquipmentHandler(w http.ResponseWriter, r *http.Request) {
	e, err := s.inventory.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// LookupHandler answers GET /api/equipment/lookup?barcode=&fields=a,b&limit=1
func (s *Server) LookupHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.LookupQuery{Code: strings.TrimSpace(q.Get("barcode"))}
	if query.Code == "" {
		s.writeError(w, utils.BadRequest("barcode is required"))
		return
	}
	if f := q.Get("fields"); f != "" {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				query.Fields = append(query.Fields, name)
			}
		}
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.writeError(w, utils.BadRequest("limit must be a non-negative integer"))
			return
		}
		query.Limit = n
	}
	res, err := s.inventory.Lookup(r.Context(), query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) LoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.inventory.Loans(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

// ===== Actions =====

func (s *Server) BorrowHandler(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "borrow", s.inventory.Borrow)
}

func (s *Server) ReturnHandler(w http.ResponseWriter, r *http.Request) {
	s.runAction(w, r, "return", s.inventory.Return)
}

func (s *Server) runAction(w http.ResponseWriter, r *http.Request, name string, call func(context.Context, string) (*models.Action, error)) {
	action, err := call(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.metrics.ObserveAction(name, "error")
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveAction(name, "ok")
	if action == nil {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// ===== Lifecycle =====

type assignRequest struct {
	HolderType models.HolderType `json:"holder_type"`
	Holder     string            `json:"holder"`
}

func (s *Server) AssignHandler(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.writeError(w, utils.BadRequest("invalid JSON body"))
		return
	}
	s.runTransition(w, r, "assign", func(ctx context.Context, id string) (*models.Equipment, error) {
		return s.inventory.Assign(ctx, id, req.HolderType, req.Holder)
	})
}

// transitionHandler serves lifecycle routes that take no body.
func (s *Server) transitionHandler(name string, call func(context.Context, string) (*models.Equipment, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.runTransition(w, r, name, call)
	}
}

func (s *Server) runTransition(w http.ResponseWriter, r *http.Request, name string, call func(context.Context, string) (*models.Equipment, error)) {
	e, err := call(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.metrics.ObserveAction(name, "error")
		s.writeError(w, err)
		return
	}
	s.metrics.ObserveAction(name, "ok")
	writeJSON(w, http.StatusOK, e)
}

// ===== Labels =====

// LabelHandler renders the item's barcode as a PNG; ?format=qr|code128&size=N
func (s *Server) LabelHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	format, err := labels.ParseFormat(q.Get("format"))
	if err != nil {
		s.writeError(w, utils.BadRequest(err.Error()))
		return
	}
	size := labels.DefaultSize
	if v := q.Get("size"); v != "" {
		if size, err = strconv.Atoi(v); err != nil {
			s.writeError(w, utils.BadRequest("size must be an integer"))
			return
		}
	}
	e, err := s.inventory.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := s.labels.PNG(e.Barcode, format, size)
	if err != nil {
		s.writeError(w, utils.BadRequest(err.Error()))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Label write failed", "error", err)
	}
}

// ===== Helpers =====

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status carried by a utils.CustomError, or 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, msg := utils.StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": msg})
}
