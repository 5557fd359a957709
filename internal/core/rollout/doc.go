// Package rollout provides the pure state machine for a fleet rollout.
//
// A rollout session watches one fleet refresh. Each observation of the
// refresh status is fed to Session.Observe together with the current time,
// and the session answers with what the caller must do next: keep polling,
// stop with success, stop with a failure, or escalate by rolling the live
// artifact back. Escalation happens at most once per session; a second
// stalled window always fails.
//
// # Functions
//
//   - Status: Driver status mapping (ParseStatus, Status.IsTerminal)
//   - Session: The escalation state machine (NewSession, Observe, MarkEscalated)
//   - Summary: The final view of a session for reporting (Session.Summary)
//
// # Usage
//
// The imperative shell (internal/shell/rollout) owns the clock, the fleet
// driver and the sleep between polls:
//
//	d := session.Observe(obs.Status, clock.Now(), timeout)
//	switch d.Action {
//	case rollout.ActionEscalate:
//	    rollbackLiveAlias()
//	    session.MarkEscalated(clock.Now())
//	}
//
// Sessions are never persisted. A restarted process starts a fresh session
// with a fresh escalation budget.
package rollout
