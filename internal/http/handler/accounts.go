package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"autorun/internal/account"
	"autorun/internal/auth"
	"autorun/internal/interaction"
	"autorun/internal/progress"
)

type Runner interface {
	Running(ctx context.Context, accountID uint64) (bool, error)
	RunSingle(ctx context.Context, acct *account.Account, w interaction.Work, content string, sink progress.Sink) (bool, error)
}

type AccountHandler struct {
	Accounts *account.Repo
	Runner   Runner
}

type createAccountReq struct {
	PlatformType string `json:"platform_type"`
	UID          string `json:"uid"`
	Nickname     string `json:"nickname"`
}

func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	var req createAccountReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	a := account.Account{OwnerID: uid, PlatformType: req.PlatformType, UID: req.UID, Nickname: req.Nickname}
	if err := h.Accounts.Create(r.Context(), &a); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *AccountHandler) List(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	rows, err := h.Accounts.List(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	if rows == nil {
		rows = []account.Account{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": rows})
}

// Running reports whether the account currently has a batch holding its lock.
func (h *AccountHandler) Running(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r)
	if !ok {
		return
	}
	running, err := h.Runner.Running(r.Context(), a.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": a.ID, "running": running})
}

type interactReq struct {
	Work    interaction.Work `json:"work"`
	Content string           `json:"content"`
}

// Interact processes one work item synchronously.
func (h *AccountHandler) Interact(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r)
	if !ok {
		return
	}
	var req interactReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	done, err := h.Runner.RunSingle(r.Context(), a, req.Work, req.Content, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": done, "work_id": req.Work.WorkID})
}

func (h *AccountHandler) load(w http.ResponseWriter, r *http.Request) (*account.Account, bool) {
	uid, _ := auth.UserIDFromContext(r.Context())
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return nil, false
	}
	a, err := h.Accounts.Get(r.Context(), uid, id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return a, true
}
