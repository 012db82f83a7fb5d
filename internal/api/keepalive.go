package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/stoker/internal/model"
	"github.com/seantiz/stoker/internal/timefmt"
)

// keepaliveView is one keepalive task in API responses.
type keepaliveView struct {
	TaskKey        string  `json:"task_key"`
	AccountName    string  `json:"account_name"`
	CodespaceName  string  `json:"cs_name"`
	KeepaliveHours float64 `json:"keepalive_hours"`
	ElapsedHours   float64 `json:"elapsed_hours"`
	RemainingHours float64 `json:"remaining_hours"`
	Remaining      string  `json:"remaining"`
	StartTime      string  `json:"start_time"`
	LastUsedAt     string  `json:"last_used_at,omitempty"`
	NextCheckAt    string  `json:"next_check_time,omitempty"`
	CreatedBy      string  `json:"created_by,omitempty"`
}

type createKeepaliveRequest struct {
	AccountName    string  `json:"account_name"`
	CodespaceName  string  `json:"cs_name"`
	KeepaliveHours float64 `json:"keepalive_hours"`
}

func (s *Server) handleListKeepalives(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	tasks := s.keeper.Tasks()
	views := make([]keepaliveView, len(tasks))
	for i, task := range tasks {
		views[i] = s.keepaliveView(task, now)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"keepalives": views})
}

func (s *Server) handleCreateKeepalive(w http.ResponseWriter, r *http.Request) {
	var req createKeepaliveRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AccountName == "" || req.CodespaceName == "" {
		s.writeError(w, http.StatusBadRequest, "account_name and cs_name are required")
		return
	}
	if _, err := s.registry.Get(req.AccountName); err != nil {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}

	hours := req.KeepaliveHours
	if hours == 0 {
		hours = s.cfg.DefaultKeepaliveHours
	}

	task := &model.KeepaliveTask{
		AccountName:    req.AccountName,
		CodespaceName:  req.CodespaceName,
		KeepaliveHours: hours,
		CreatedBy:      currentUser(r),
	}
	if err := s.keeper.Track(r.Context(), task); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, s.keepaliveView(task, time.Now()))
}

func (s *Server) handleDeleteKeepalive(w http.ResponseWriter, r *http.Request) {
	key := model.TaskKey(chi.URLParam(r, "account"), chi.URLParam(r, "name"))

	if _, ok := s.keeper.Task(key); !ok {
		s.writeError(w, http.StatusNotFound, "keepalive task not found")
		return
	}
	if err := s.keeper.Cancel(r.Context(), key); err != nil {
		s.logger.Error("cancel keepalive", "task", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel keepalive")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// keepaliveView renders a task with elapsed/remaining progress and
// display-zone timestamps.
func (s *Server) keepaliveView(task *model.KeepaliveTask, now time.Time) keepaliveView {
	view := keepaliveView{
		TaskKey:        task.Key(),
		AccountName:    task.AccountName,
		CodespaceName:  task.CodespaceName,
		KeepaliveHours: task.KeepaliveHours,
		ElapsedHours:   task.ElapsedHours(now),
		RemainingHours: task.RemainingHours(now),
		Remaining:      timefmt.FormatHours(task.RemainingHours(now)),
		StartTime:      timefmt.Format(task.StartTime, s.cfg.DisplayZone),
		CreatedBy:      task.CreatedBy,
	}
	if task.LastUsedAt != nil {
		view.LastUsedAt = timefmt.Format(*task.LastUsedAt, s.cfg.DisplayZone)
	}
	if task.NextCheckAt != nil {
		view.NextCheckAt = timefmt.Format(*task.NextCheckAt, s.cfg.DisplayZone)
	}
	return view
}
