package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"autorun/internal/account"
	"autorun/internal/auth"
	"autorun/internal/autorun"
	"autorun/internal/interaction"
	"autorun/internal/scheduler"
)

type ForceRunner interface {
	RunNow(ctx context.Context, ownerID, jobID uint64) (scheduler.Result, error)
}

type JobHandler struct {
	Jobs      *autorun.Repo
	Accounts  *account.Repo
	Scheduler ForceRunner
}

type createJobReq struct {
	AccountID uint64          `json:"account_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Cycle     string          `json:"cycle"`
}

func (h *JobHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createJobReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	req.Type = strings.ToUpper(strings.TrimSpace(req.Type))
	if req.Type == "" {
		req.Type = autorun.TypeInteraction
	}

	if _, err := h.Accounts.Get(r.Context(), uid, req.AccountID); err != nil {
		writeError(w, err)
		return
	}
	if req.Type == autorun.TypeInteraction {
		if _, err := interaction.DecodePayload(req.Payload); err != nil {
			writeError(w, err)
			return
		}
	}

	j, err := h.Jobs.CreateJob(r.Context(), autorun.JobInput{
		OwnerID:   uid,
		AccountID: req.AccountID,
		Type:      req.Type,
		Payload:   req.Payload,
		Cycle:     strings.TrimSpace(req.Cycle),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, j)
}

func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	q := r.URL.Query()

	f := autorun.JobFilter{
		OwnerID:   uid,
		AccountID: queryUint(r, "account_id"),
		Status:    strings.ToUpper(q.Get("status")),
		Type:      strings.ToUpper(q.Get("type")),
		Page:      queryInt(r, "page"),
		PageSize:  queryInt(r, "page_size"),
	}
	rows, total, err := h.Jobs.ListJobs(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []autorun.Job{}
	}
	writeJSON(w, http.StatusOK, page[autorun.Job]{Items: rows, Total: total, Page: max(f.Page, 1)})
}

func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	j, err := h.Jobs.GetJob(r.Context(), uid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

type setStatusReq struct {
	Status string `json:"status"`
}

func (h *JobHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req setStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	j, err := h.Jobs.SetJobStatus(r.Context(), uid, id, strings.ToUpper(strings.TrimSpace(req.Status)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// Run fires the job now, ignoring its cycle.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	res, err := h.Scheduler.RunNow(r.Context(), uid, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if res.Outcome == scheduler.Busy {
		writeJSON(w, http.StatusConflict, map[string]any{"status": "busy"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "accepted", "record_id": res.RecordID})
}

func (h *JobHandler) Records(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if _, err := h.Jobs.GetJob(r.Context(), uid, id); err != nil {
		writeError(w, err)
		return
	}
	listRecords(w, r, h.Jobs, autorun.RecordFilter{OwnerID: uid, JobID: id})
}
