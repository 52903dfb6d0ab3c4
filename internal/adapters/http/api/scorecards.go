package api

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
)

// ScorecardDependencies defines the operations behind the /scorecards routes.
type ScorecardDependencies interface {
	SaveScorecard(ctx context.Context, sc model.Scorecard) (model.Scorecard, error)
	Scorecard(ctx context.Context, version int) (model.Scorecard, error)
	LatestScorecard(ctx context.Context) (model.Scorecard, error)
}

// ScorecardsHandler handles scorecard versions.
type ScorecardsHandler struct {
	deps ScorecardDependencies
}

// NewScorecardsHandler creates a new scorecards handler.
func NewScorecardsHandler(deps ScorecardDependencies) *ScorecardsHandler {
	return &ScorecardsHandler{deps: deps}
}

type scorecardRequest struct {
	Criteria []grading.Criterion `json:"criteria"`
}

// HandlePut handles PUT /scorecards/{version}. The body is either JSON
// {"criteria": [...]} or, with Content-Type text/csv, a criteria CSV.
func (h *ScorecardsHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	const op = "api.put_scorecard"
	version, ok := scorecardVersion(w, r)
	if !ok {
		return
	}

	var criteria []grading.Criterion
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "text/csv" {
		var err error
		if criteria, err = grading.ReadCSV(r.Body); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w", op, err))
			return
		}
	} else {
		var req scorecardRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %v", op, ErrBadRequest, err))
			return
		}
		criteria = req.Criteria
	}

	sc, err := h.deps.SaveScorecard(r.Context(), model.Scorecard{Version: version, Criteria: criteria})
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// HandleGet handles GET /scorecards/{version}.
func (h *ScorecardsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	version, ok := scorecardVersion(w, r)
	if !ok {
		return
	}
	sc, err := h.deps.Scorecard(r.Context(), version)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// HandleLatest handles GET /scorecards/latest.
func (h *ScorecardsHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	sc, err := h.deps.LatestScorecard(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

func scorecardVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	v, err := strconv.Atoi(mux.Vars(r)["version"])
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadID)
		return 0, false
	}
	return v, true
}
