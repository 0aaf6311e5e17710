package diag

import "sync/atomic"

// Counters collects the subsystem's diagnostic counts. All fields are safe
// for concurrent use; readers see them through Snapshot.
type Counters struct {
	Joins                atomic.Uint64
	Quits                atomic.Uint64
	LoadsOk              atomic.Uint64
	LoadsFailed          atomic.Uint64
	EmergencyRecoveries  atomic.Uint64
	SaveFailures         atomic.Uint64
	DetachedSaveFailures atomic.Uint64
	OpTimeouts           atomic.Uint64
	StalePhaseRepairs    atomic.Uint64
	CombatLogouts        atomic.Uint64

	// CanaryViolations counts attempts to execute two operations for the
	// same identity at once. Correct locking makes this unreachable; a
	// non-zero value means the queue is broken, not that anything was
	// recovered.
	CanaryViolations atomic.Uint64
}

// Snapshot returns a point-in-time copy of all counters keyed by name.
func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"joins":                  c.Joins.Load(),
		"quits":                  c.Quits.Load(),
		"loads_ok":               c.LoadsOk.Load(),
		"loads_failed":           c.LoadsFailed.Load(),
		"emergency_recoveries":   c.EmergencyRecoveries.Load(),
		"save_failures":          c.SaveFailures.Load(),
		"detached_save_failures": c.DetachedSaveFailures.Load(),
		"op_timeouts":            c.OpTimeouts.Load(),
		"stale_phase_repairs":    c.StalePhaseRepairs.Load(),
		"combat_logouts":         c.CombatLogouts.Load(),
		"canary_violations":      c.CanaryViolations.Load(),
	}
}
