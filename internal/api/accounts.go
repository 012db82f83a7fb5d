package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/stoker/internal/accounts"
	"github.com/seantiz/stoker/internal/model"
)

// accountView is one account in API responses. Tokens are never returned
// whole.
type accountView struct {
	Name        string `json:"name"`
	Login       string `json:"login,omitempty"`
	TokenMasked string `json:"token_masked"`
	Locked      bool   `json:"locked"`
}

type addAccountRequest struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list := s.registry.List()
	views := make([]accountView, len(list))
	for i, a := range list {
		views[i] = accountView{
			Name:        a.Name,
			Login:       a.Login,
			TokenMasked: model.MaskToken(a.Token),
			Locked:      a.Locked,
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"accounts": views})
}

func (s *Server) handleAddAccount(w http.ResponseWriter, r *http.Request) {
	var req addAccountRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	acct, err := s.registry.Add(r.Context(), req.Name, req.Token)
	if errors.Is(err, accounts.ErrExists) {
		s.writeError(w, http.StatusConflict, "account already exists")
		return
	}
	if err != nil {
		s.logger.Warn("add account", "name", req.Name, "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, accountView{
		Name:        acct.Name,
		Login:       acct.Login,
		TokenMasked: model.MaskToken(acct.Token),
	})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "account")

	err := s.registry.Remove(r.Context(), name)
	if errors.Is(err, accounts.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if errors.Is(err, accounts.ErrLocked) {
		s.writeError(w, http.StatusConflict, "account is locked and cannot be removed")
		return
	}
	if err != nil {
		s.logger.Error("remove account", "name", name, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to remove account")
		return
	}

	// Keepalive tasks for the removed account are dropped on their next poll.
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}
