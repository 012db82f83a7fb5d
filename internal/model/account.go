package model

// Account pairs a display name with a provider access token. Locked accounts
// come from the secrets file and cannot be removed through the API.
type Account struct {
	Name   string `json:"name"`
	Token  string `json:"-"`
	Login  string `json:"login,omitempty"`
	Locked bool   `json:"locked"`
}

// maskVisible is how many leading token characters are shown in API responses.
const maskVisible = 10

// MaskToken renders a token safe for display: the first few characters
// followed by an ellipsis. Short tokens are masked entirely.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= maskVisible {
		return "..."
	}
	return token[:maskVisible] + "..."
}
