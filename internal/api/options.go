package api

import (
	"net/http"

	"github.com/seantiz/stoker/internal/config"
	"github.com/seantiz/stoker/internal/model"
)

// optionsResponse feeds the dashboard's create and keepalive forms.
type optionsResponse struct {
	MachineTypes          []string `json:"machine_types"`
	Locations             []string `json:"locations"`
	DefaultMachine        string   `json:"default_machine"`
	DefaultLocation       string   `json:"default_location"`
	DefaultRef            string   `json:"default_ref"`
	DefaultIdleTimeout    int      `json:"default_idle_timeout_minutes"`
	DefaultKeepaliveHours float64  `json:"default_keepalive_hours"`
	MinKeepaliveHours     float64  `json:"min_keepalive_hours"`
	MaxKeepaliveHours     float64  `json:"max_keepalive_hours"`
}

func (s *Server) handleGetOptions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, optionsResponse{
		MachineTypes:          config.MachineTypes,
		Locations:             config.Locations,
		DefaultMachine:        config.DefaultMachine,
		DefaultLocation:       config.DefaultLocation,
		DefaultRef:            config.DefaultRef,
		DefaultIdleTimeout:    config.DefaultIdleTimeoutMinutes,
		DefaultKeepaliveHours: s.cfg.DefaultKeepaliveHours,
		MinKeepaliveHours:     model.MinKeepaliveHours,
		MaxKeepaliveHours:     model.MaxKeepaliveHours,
	})
}
