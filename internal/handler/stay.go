package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/auth"
	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/service"
)

// StayManager is what StayHandler needs from service.StayService.
type StayManager interface {
	ListStays(ctx context.Context, userID string) ([]model.Stay, error)
	AddStay(ctx context.Context, userID string, stay model.Stay) (*model.Stay, error)
	UpsertStay(ctx context.Context, userID string, stay model.Stay) (*model.Stay, error)
	DeleteStay(ctx context.Context, userID, stayID string) error
	SearchStays(ctx context.Context, userID, query string) ([]model.Stay, error)
	Stats(ctx context.Context, userID string, now time.Time) (*model.StayStats, error)
}

// StayHandler serves the signed-in user's stay list. Every route sits behind
// auth.RequireAuth; the user id always comes from the token, never from the
// request, so one user can't read or edit another's stays.
type StayHandler struct {
	stays  StayManager
	now    func() time.Time
	logger *slog.Logger
}

// NewStayHandler creates a StayHandler.
func NewStayHandler(stays StayManager, logger *slog.Logger) *StayHandler {
	return &StayHandler{stays: stays, now: time.Now, logger: logger}
}

// StayRequest is the body of POST /api/stays and PUT /api/stays/{id}.
//
// Dates are either plain days ("2025-06-01") or RFC 3339 timestamps.
type StayRequest struct {
	ID       string  `json:"id,omitempty"`
	Title    string  `json:"title"`
	City     *string `json:"city,omitempty"`
	CheckIn  string  `json:"checkIn"`
	CheckOut *string `json:"checkOut,omitempty"`
	Note     *string `json:"note,omitempty"`
}

// StayResponse is a stay plus its derived day counts.
type StayResponse struct {
	model.Stay
	Nights   int `json:"nights"`
	DayCount int `json:"dayCount"`
}

func toResponse(s model.Stay) StayResponse {
	return StayResponse{Stay: s, Nights: s.Nights(), DayCount: s.DayCount()}
}

func toResponses(stays []model.Stay) []StayResponse {
	out := make([]StayResponse, 0, len(stays))
	for _, s := range stays {
		out = append(out, toResponse(s))
	}
	return out
}

// toStay parses the request dates. A blank checkOut means "no check-out".
func (req StayRequest) toStay() (model.Stay, error) {
	checkIn, err := service.ParseDay(req.CheckIn)
	if err != nil {
		return model.Stay{}, apperror.ValidationFailed("checkIn", err.Error())
	}
	stay := model.Stay{
		ID:      req.ID,
		Title:   req.Title,
		City:    req.City,
		CheckIn: checkIn,
		Note:    req.Note,
	}
	if req.CheckOut != nil && strings.TrimSpace(*req.CheckOut) != "" {
		checkOut, err := service.ParseDay(*req.CheckOut)
		if err != nil {
			return model.Stay{}, apperror.ValidationFailed("checkOut", err.Error())
		}
		stay.CheckOut = &checkOut
	}
	return stay, nil
}

// HandleList returns the user's stays oldest first, or the matches for ?q=
// newest first.
//
// HTTP: GET /api/stays[?q=kyoto]
func (h *StayHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var (
		stays []model.Stay
		err   error
	)
	if q := r.URL.Query().Get("q"); strings.TrimSpace(q) != "" {
		stays, err = h.stays.SearchStays(r.Context(), userID, q)
	} else {
		stays, err = h.stays.ListStays(r.Context(), userID)
	}
	if err != nil {
		h.fail(w, r, "list stays", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponses(stays))
}

// HandleCreate records a stay.
//
// HTTP: POST /api/stays
// RESPONSE: 201 with the stored stay (id and title filled in)
func (h *StayHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req StayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	stay, err := req.toStay()
	if err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := h.stays.AddStay(r.Context(), userID, stay)
	if err != nil {
		h.fail(w, r, "add stay", err)
		return
	}

	writeJSON(w, http.StatusCreated, toResponse(*saved))
}

// HandleUpsert replaces the stay with the URL's id, or adds it when no stay
// has that id yet. An id in the body is ignored.
//
// HTTP: PUT /api/stays/{id}
func (h *StayHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req StayRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	stay, err := req.toStay()
	if err != nil {
		writeError(w, r, err)
		return
	}

	saved, err := h.stays.UpsertStay(r.Context(), userID, stay)
	if err != nil {
		h.fail(w, r, "upsert stay", err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(*saved))
}

// HandleDelete removes the stay. Deleting an id that doesn't exist still
// answers 204: the end state is the same.
//
// HTTP: DELETE /api/stays/{id}
func (h *StayHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.stays.DeleteStay(r.Context(), userID, id); err != nil {
		h.fail(w, r, "delete stay", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleStats returns the summary numbers for the stats screen.
//
// HTTP: GET /api/stays/stats
func (h *StayHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	stats, err := h.stays.Stats(r.Context(), userID, h.now())
	if err != nil {
		h.fail(w, r, "stay stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *StayHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, apperror.NotAuthenticated())
		return "", false
	}
	return userID, true
}

func (h *StayHandler) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	logFailure(h.logger, action, err)
	writeError(w, r, err)
}
