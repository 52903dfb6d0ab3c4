package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	service "github.com/okian/callqa/internal/app"
	"github.com/okian/callqa/internal/domain/grading"
	"github.com/okian/callqa/internal/domain/model"
	"github.com/okian/callqa/internal/domain/transcript"
)

// multipart parts kept in memory before spilling to disk
const formMemory = 32 << 20

// CallDependencies defines the operations behind the /calls and /jobs routes.
type CallDependencies interface {
	Submit(ctx context.Context, up service.Upload) (model.Job, bool, error)
	JobState(ctx context.Context, id string) (model.JobStatus, error)
	Calls(ctx context.Context) ([]model.CallRecord, error)
	Call(ctx context.Context, id int64) (model.CallRecord, error)
	DeleteCall(ctx context.Context, id int64) (bool, error)
	Ask(ctx context.Context, callID int64, question string) (model.AnswerResult, error)
	Summarize(ctx context.Context, callID int64) (model.SummaryResult, error)
}

// CallsHandler handles call submission and stored call queries.
type CallsHandler struct {
	deps      CallDependencies
	maxUpload int64
}

// NewCallsHandler creates a new calls handler.
func NewCallsHandler(deps CallDependencies) *CallsHandler {
	return &CallsHandler{deps: deps, maxUpload: defaultMaxUploadBytes}
}

type ackResponse struct {
	Status    string    `json:"status"`
	Duplicate bool      `json:"duplicate"`
	Job       model.Job `json:"job"`
}

type questionRequest struct {
	Question string `json:"question"`
}

// HandleSubmit handles POST /calls. The form carries the recording in
// "audio" and optionally repeated "criterion" values, a "scorecard" CSV
// part or a "scorecard_version".
func (h *CallsHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_call"
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", err)
			return
		}
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %v", op, ErrBadRequest, err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w", op, ErrMissingFile))
		return
	}
	defer file.Close()

	up := service.Upload{
		Filename: header.Filename,
		Body:     file,
		Criteria: grading.FromNames(r.MultipartForm.Value["criterion"]),
	}
	if len(up.Criteria) == 0 {
		if up.Criteria, err = scorecardPart(r); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w", op, err))
			return
		}
	}
	if v := strings.TrimSpace(r.FormValue("scorecard_version")); v != "" {
		if up.ScorecardVersion, err = strconv.Atoi(v); err != nil || up.ScorecardVersion <= 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: scorecard_version", op, ErrBadID))
			return
		}
	}

	job, dup, err := h.deps.Submit(r.Context(), up)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if dup {
		writeJSON(w, http.StatusOK, ackResponse{Status: "duplicate", Duplicate: true, Job: job})
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "accepted", Job: job})
}

func scorecardPart(r *http.Request) ([]grading.Criterion, error) {
	f, _, err := r.FormFile("scorecard")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return grading.ReadCSV(f)
}

// HandleJob handles GET /jobs/{id}.
func (h *CallsHandler) HandleJob(w http.ResponseWriter, r *http.Request) {
	st, err := h.deps.JobState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// HandleList handles GET /calls.
func (h *CallsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	calls, err := h.deps.Calls(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if calls == nil {
		calls = []model.CallRecord{}
	}
	writeJSON(w, http.StatusOK, calls)
}

// HandleGet handles GET /calls/{id}.
func (h *CallsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	call, err := h.deps.Call(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

// timingResponse is the per-speaker speaking time of a stored call.
type timingResponse struct {
	CallID       int64                     `json:"call_id"`
	Timing       *transcript.SpeakerTiming `json:"timing"`
	TotalSeconds float64                   `json:"total_seconds"`
}

// HandleTiming handles GET /calls/{id}/timing.
func (h *CallsHandler) HandleTiming(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	call, err := h.deps.Call(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if call.Timing == nil {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("call %d has no speaker timing", id))
		return
	}
	writeJSON(w, http.StatusOK, timingResponse{CallID: id, Timing: call.Timing, TotalSeconds: call.Timing.Total()})
}

// HandleDelete handles DELETE /calls/{id}.
func (h *CallsHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	deleted, err := h.deps.DeleteCall(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", fmt.Errorf("call %d not found", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleQuestion handles POST /calls/{id}/questions with {"question": "..."}.
func (h *CallsHandler) HandleQuestion(w http.ResponseWriter, r *http.Request) {
	const op = "api.ask"
	id, ok := callID(w, r)
	if !ok {
		return
	}
	var req questionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("%s: %w: %v", op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.Ask(r.Context(), id, req.Question)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOutcome(w, res.Outcome, res)
}

// HandleSummary handles POST /calls/{id}/summary.
func (h *CallsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := callID(w, r)
	if !ok {
		return
	}
	res, err := h.deps.Summarize(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeOutcome(w, res.Outcome, res)
}

func callID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadID)
		return 0, false
	}
	return id, true
}
