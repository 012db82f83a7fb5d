package api

import (
	"net/http"
	"time"

	"github.com/seantiz/stoker/internal/timefmt"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Accounts       int            `json:"accounts"`
	ActiveTasks    int            `json:"active_tasks"`
	TasksByAccount map[string]int `json:"tasks_by_account"`
	NextCheckAt    string         `json:"next_check_time,omitempty"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	tasks := s.keeper.Tasks()

	byAccount := make(map[string]int)
	var soonest *time.Time
	for _, task := range tasks {
		byAccount[task.AccountName]++
		if task.NextCheckAt != nil && (soonest == nil || task.NextCheckAt.Before(*soonest)) {
			soonest = task.NextCheckAt
		}
	}

	resp := statsResponse{
		Accounts:       len(s.registry.List()),
		ActiveTasks:    len(tasks),
		TasksByAccount: byAccount,
	}
	if soonest != nil {
		resp.NextCheckAt = timefmt.Format(*soonest, s.cfg.DisplayZone)
	}

	s.writeJSON(w, http.StatusOK, resp)
}
