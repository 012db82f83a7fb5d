package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Fallback dashboard credentials when the secrets file configures none.
const (
	DefaultLoginUsername = "admin"
	DefaultLoginPassword = "admin"
)

// Login holds the dashboard sign-in credentials.
type Login struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// TaskStorage configures the remote repo-contents task store. Task storage
// stays local unless both Token and Repo are set.
type TaskStorage struct {
	Token  string `toml:"token"`
	Repo   string `toml:"repo"`
	Branch string `toml:"branch"`
}

// Keepalive holds poll-loop overrides from the secrets file.
type Keepalive struct {
	CheckBufferSeconds *int `toml:"check_buffer_seconds"`
}

// Secrets is the TOML secrets file: dashboard credentials, pre-provisioned
// accounts (which the API treats as locked), remote task storage, and
// keepalive overrides.
type Secrets struct {
	Login       Login             `toml:"login"`
	Accounts    map[string]string `toml:"accounts"`
	TaskStorage TaskStorage       `toml:"task_storage"`
	Keepalive   Keepalive         `toml:"keepalive"`
}

// LoadSecrets parses the TOML secrets file at path. A missing file is not an
// error: the service falls back to default credentials and local storage.
func LoadSecrets(path string) (Secrets, error) {
	s := Secrets{
		Login: Login{
			Username: DefaultLoginUsername,
			Password: DefaultLoginPassword,
		},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("read %s: %w", path, err)
	}

	if err := toml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("parse %s: %w", path, err)
	}

	if s.Login.Username == "" {
		s.Login.Username = DefaultLoginUsername
	}
	if s.Login.Password == "" {
		s.Login.Password = DefaultLoginPassword
	}
	if s.TaskStorage.Branch == "" {
		s.TaskStorage.Branch = "main"
	}

	return s, nil
}

// RemoteTaskStorage reports whether the remote task store is fully configured.
func (s Secrets) RemoteTaskStorage() bool {
	return s.TaskStorage.Token != "" && s.TaskStorage.Repo != ""
}
