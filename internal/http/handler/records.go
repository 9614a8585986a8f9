package handler

import (
	"net/http"
	"strings"

	"autorun/internal/auth"
	"autorun/internal/autorun"
	"autorun/internal/interaction"
)

type RecordHandler struct {
	Jobs  *autorun.Repo
	Guard *interaction.Guard
}

// Executions lists execution records across the caller's jobs.
func (h *RecordHandler) Executions(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	listRecords(w, r, h.Jobs, autorun.RecordFilter{OwnerID: uid, JobID: queryUint(r, "job_id")})
}

func listRecords(w http.ResponseWriter, r *http.Request, jobs *autorun.Repo, f autorun.RecordFilter) {
	f.Status = strings.ToUpper(r.URL.Query().Get("status"))
	f.Page = queryInt(r, "page")
	f.PageSize = queryInt(r, "page_size")

	rows, total, err := jobs.ListExecutionRecords(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []autorun.Record{}
	}
	writeJSON(w, http.StatusOK, page[autorun.Record]{Items: rows, Total: total, Page: max(f.Page, 1)})
}

// Interactions lists the per-item interaction history.
func (h *RecordHandler) Interactions(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	f := interaction.ListFilter{
		OwnerID:      uid,
		AccountID:    queryUint(r, "account_id"),
		PlatformType: strings.ToUpper(r.URL.Query().Get("platform_type")),
		Page:         queryInt(r, "page"),
		PageSize:     queryInt(r, "page_size"),
	}
	rows, total, err := h.Guard.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []interaction.Record{}
	}
	writeJSON(w, http.StatusOK, page[interaction.Record]{Items: rows, Total: total, Page: max(f.Page, 1)})
}
