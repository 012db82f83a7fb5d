package model

import "time"

// Codespace state constants as reported by the provider API.
const (
	StateAvailable   = "Available"
	StateStarting    = "Starting"
	StateStopped     = "Stopped"
	StateShutdown    = "Shutdown"
	StateUnavailable = "Unavailable"
	StateUnknown     = "Unknown"
)

// Restartable reports whether a codespace in the given state should be
// restarted by the keepalive loop. Transient states (Starting) are left alone.
func Restartable(state string) bool {
	return state == StateStopped || state == StateShutdown
}

// Repository identifies the repository a codespace was created from.
type Repository struct {
	FullName string `json:"full_name"`
}

// GitStatus carries the git ref the codespace is checked out on.
type GitStatus struct {
	Ref string `json:"ref"`
}

// Machine describes the machine type backing a codespace.
type Machine struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	CPUs        int    `json:"cpus,omitempty"`
	MemoryBytes int64  `json:"memory_in_bytes,omitempty"`
}

// Codespace is the provider's wire representation of a cloud development
// sandbox. Only the fields the dashboard consumes are mapped.
type Codespace struct {
	Name               string     `json:"name"`
	State              string     `json:"state"`
	Repository         Repository `json:"repository"`
	GitStatus          GitStatus  `json:"git_status"`
	Machine            Machine    `json:"machine"`
	Location           string     `json:"location"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	WebURL             string     `json:"web_url,omitempty"`
	IdleTimeoutMinutes int        `json:"idle_timeout_minutes,omitempty"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

// User is the provider's authenticated-user record, used to validate account
// tokens and label accounts with their provider login.
type User struct {
	Login string `json:"login"`
	Name  string `json:"name,omitempty"`
}
