package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quorumlabs/votegrid/pkg/aggregate"
	"github.com/quorumlabs/votegrid/pkg/audit"
	"github.com/quorumlabs/votegrid/pkg/authz"
	"github.com/quorumlabs/votegrid/pkg/forward"
	"github.com/quorumlabs/votegrid/pkg/power"
	"github.com/quorumlabs/votegrid/pkg/registry"
)

// Server exposes the administrative surface (source mutations, gated by
// bearer tokens) and the public query surface (aggregates, periods, can-act).
type Server struct {
	reg       *registry.Registry
	eng       *aggregate.Engine
	gate      *forward.Gate
	trail     *audit.Ledger
	validator *authz.TokenValidator
	points    power.PointSource
	limiter   *GlobalRateLimiter
	log       *slog.Logger
	mux       *http.ServeMux
}

// NewServer wires the HTTP surface. trail may be nil to skip audit logging;
// validator nil fails every admin request closed.
func NewServer(
	reg *registry.Registry,
	eng *aggregate.Engine,
	gate *forward.Gate,
	trail *audit.Ledger,
	validator *authz.TokenValidator,
	points power.PointSource,
	limiter *GlobalRateLimiter,
) *Server {
	s := &Server{
		reg:       reg,
		eng:       eng,
		gate:      gate,
		trail:     trail,
		validator: validator,
		points:    points,
		limiter:   limiter,
		log:       slog.Default().With("component", "api"),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Admin surface.
	s.mux.HandleFunc("POST /v1/sources", bearerAuth(s.validator, s.handleAddSource))
	s.mux.HandleFunc("PATCH /v1/sources/{id}/weight", bearerAuth(s.validator, s.handleSetWeight))
	s.mux.HandleFunc("POST /v1/sources/{id}/disable", bearerAuth(s.validator, s.handleDisable))
	s.mux.HandleFunc("POST /v1/sources/{id}/enable", bearerAuth(s.validator, s.handleEnable))
	s.mux.HandleFunc("POST /v1/actions", bearerAuth(s.validator, s.handleAct))

	// Query surface.
	s.mux.HandleFunc("GET /v1/sources", s.handleListSources)
	s.mux.HandleFunc("GET /v1/sources/{id}", s.handleSourceDetails)
	s.mux.HandleFunc("GET /v1/sources/{id}/periods/{index}", s.handlePeriod)
	s.mux.HandleFunc("GET /v1/power/{owner}", s.handleBalance)
	s.mux.HandleFunc("GET /v1/supply", s.handleSupply)
	s.mux.HandleFunc("GET /v1/can-act/{sender}", s.handleCanAct)
	s.mux.HandleFunc("GET /v1/audit", s.handleAudit)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// Handler returns the full middleware stack.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = requestLog(s.log, h)
	return requestID(h)
}

func (s *Server) audit(entryType audit.EntryType, actor string, data map[string]any) {
	if s.trail == nil {
		return
	}
	if _, err := s.trail.Append(entryType, actor, s.points.Current(), data); err != nil {
		s.log.Error("audit append failed", "error", err)
	}
}

type addSourceRequest struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Weight uint64 `json:"weight"`
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request, sender string) {
	var req addSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	kind, err := power.ParseSourceKind(req.Kind)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	if err := s.reg.Add(r.Context(), sender, req.ID, kind, req.Weight); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.audit(audit.EntrySourceAdded, sender, map[string]any{
		"id": req.ID, "kind": req.Kind, "weight": req.Weight,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"id": req.ID})
}

type setWeightRequest struct {
	Weight uint64 `json:"weight"`
}

func (s *Server) handleSetWeight(w http.ResponseWriter, r *http.Request, sender string) {
	id := r.PathValue("id")
	var req setWeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := s.reg.SetWeight(r.Context(), sender, id, req.Weight); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.audit(audit.EntryWeightChanged, sender, map[string]any{
		"id": id, "weight": req.Weight,
	})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "weight": req.Weight})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request, sender string) {
	id := r.PathValue("id")
	if err := s.reg.Disable(r.Context(), sender, id); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.audit(audit.EntrySourceDisabled, sender, map[string]any{"id": id})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": false})
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request, sender string) {
	id := r.PathValue("id")
	if err := s.reg.Enable(r.Context(), sender, id); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	s.audit(audit.EntrySourceEnabled, sender, map[string]any{"id": id})
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": true})
}

type actRequest struct {
	Payload string `json:"payload"`
}

func (s *Server) handleAct(w http.ResponseWriter, r *http.Request, sender string) {
	var req actRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	action := forward.NewAction(sender, []byte(req.Payload))
	if err := s.gate.Act(r.Context(), action); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"action_id": action.ID.String()})
}

type sourceView struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Weight     uint64 `json:"weight"`
	HistoryLen int    `json:"history_len"`
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	ids := s.reg.Order()
	views := make([]sourceView, 0, len(ids))
	for _, id := range ids {
		d, err := s.reg.Details(id)
		if err != nil {
			continue
		}
		views = append(views, sourceView{
			ID: id, Kind: d.Kind.String(), Weight: d.Weight, HistoryLen: d.HistoryLen,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": views, "count": len(views)})
}

func (s *Server) handleSourceDetails(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	d, err := s.reg.Details(id)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sourceView{
		ID: id, Kind: d.Kind.String(), Weight: d.Weight, HistoryLen: d.HistoryLen,
	})
}

func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", "index must be an integer")
		return
	}
	p, err := s.reg.ActivationPeriod(id, index)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled_from": p.EnabledFrom.String(),
		"disabled_on":  p.DisabledOn.String(),
		"open":         p.Open(),
	})
}

// queryPoint resolves the optional ?at= parameter, defaulting to the current
// point.
func (s *Server) queryPoint(r *http.Request) (power.Point, bool) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return s.points.Current(), true
	}
	p, err := power.ParsePoint(raw)
	if err != nil {
		return 0, false
	}
	return p, true
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	at, ok := s.queryPoint(r)
	if !ok {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", "invalid at parameter")
		return
	}
	v, err := s.eng.BalanceOfAt(r.Context(), owner, at)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "at": at.String(), "power": v})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	at, ok := s.queryPoint(r)
	if !ok {
		WriteError(w, r, http.StatusBadRequest, "Bad Request", "invalid at parameter")
		return
	}
	v, err := s.eng.TotalSupplyAt(r.Context(), at)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"at": at.String(), "supply": v})
}

func (s *Server) handleCanAct(w http.ResponseWriter, r *http.Request) {
	sender := r.PathValue("sender")
	writeJSON(w, http.StatusOK, map[string]any{
		"sender":  sender,
		"can_act": s.gate.CanAct(r.Context(), sender),
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []audit.Entry{}, "head": ""})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": s.trail.Entries(),
		"head":    s.trail.Head(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"point":   s.points.Current().String(),
		"sources": s.reg.Count(),
	})
}
