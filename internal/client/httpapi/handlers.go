package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/expiryx/internal/client/lifecycle"
	"github.com/dmitrijs2005/expiryx/internal/client/models"
	"github.com/dmitrijs2005/expiryx/internal/client/services"
	"github.com/dmitrijs2005/expiryx/internal/client/syncer"
	"github.com/dmitrijs2005/expiryx/internal/permission"
)

type grantRequest struct {
	Spender string `json:"spender"`
	// Amount is in coins, e.g. "1.5".
	Amount string    `json:"amount"`
	Expiry time.Time `json:"expiry"`
	Scope  string    `json:"scope"`
}

type spendRequest struct {
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

type extendRequest struct {
	Expiry time.Time `json:"expiry"`
}

type summaryResponse struct {
	models.Summary
	Principal  string     `json:"principal"`
	LastSynced *time.Time `json:"last_synced,omitempty"`
}

type syncResponse struct {
	Fetched    int `json:"fetched"`
	Reconciled int `json:"reconciled"`
	Discarded  int `json:"discarded"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps a service error onto an HTTP status.
func statusOf(err error) int {
	kind, ok := lifecycle.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case lifecycle.KindValidation:
		return http.StatusUnprocessableEntity
	case lifecycle.KindNotFound:
		return http.StatusNotFound
	case lifecycle.KindUnsupported:
		return http.StatusNotImplemented
	case lifecycle.KindStaleRetryExhausted:
		return http.StatusConflict
	case lifecycle.KindSubmissionUncertain:
		return http.StatusAccepted
	case lifecycle.KindSubmissionFailed, lifecycle.KindLedger:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: services.Describe(err)}
	if kind, ok := lifecycle.KindOf(err); ok {
		resp.Kind = kind.String()
	}
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	views, err := s.svc.List(r.Context(), services.ListFilter{Role: q.Get("role"), Status: q.Get("status")})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) refreshOne(w http.ResponseWriter, r *http.Request) {
	v, err := s.svc.RefreshOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Refresh(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSyncResponse(res))
}

func toSyncResponse(res syncer.TickResult) syncResponse {
	return syncResponse{Fetched: res.Fetched, Reconciled: res.Reconciled, Discarded: res.Discarded}
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Summary(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := summaryResponse{Summary: sum, Principal: s.svc.Principal()}
	at, err := s.svc.LastSynced(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if !at.IsZero() {
		resp.LastSynced = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	amount, err := permission.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	rec, err := s.svc.RequestGrant(r.Context(), lifecycle.GrantRequest{
		Spender: req.Spender,
		Amount:  amount,
		Expiry:  req.Expiry,
		Scope:   permission.Scope(req.Scope),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) spend(w http.ResponseWriter, r *http.Request) {
	var req spendRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	amount, err := permission.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	rec, err := s.svc.RequestSpend(r.Context(), chi.URLParam(r, "id"), amount, req.Recipient)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) revoke(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.RequestRevoke(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) extend(w http.ResponseWriter, r *http.Request) {
	var req extendRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if req.Expiry.IsZero() {
		badRequest(w, "expiry is required")
		return
	}
	rec, err := s.svc.RequestExtend(r.Context(), chi.URLParam(r, "id"), req.Expiry)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
