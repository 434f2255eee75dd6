// Package service is the boundary between the DAG engine and its
// history log.
//
// Producers report lifecycle transitions through HistoryService.Emit.
// On startup RecoverLog replays the log into a reconstruct.Table, which
// New requires before the service accepts writes. Exporter and Backfill
// feed committed frames to the audit export outbox.
package service
