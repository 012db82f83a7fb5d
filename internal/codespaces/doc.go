// Package codespaces is a thin synchronous client for the hosting provider's
// codespace REST API: list, inspect, create, start, stop, and delete
// sandboxes, plus user-info lookup for token validation. Calls are plain
// request/response; retry policy belongs to the callers.
package codespaces
