// Package reconstruct rebuilds the lifecycle state of tasks and attempts
// from history events.
//
// Every entity moves Unseen -> Created -> Running -> Terminal. Apply is
// pure and idempotent, so replaying a log twice, or a log with duplicated
// frames, yields the same table. Inconsistent histories are not errors:
// the first terminal outcome wins and the entity is flagged with an
// Anomaly for the caller to report.
package reconstruct
