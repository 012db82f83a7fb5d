// Package keeper runs the keepalive loop. Each tracked task owns a timer
// that fires at its next check time, inspects the codespace, restarts it if
// it has stopped, and schedules the following check from the observed
// last-used time.
package keeper
