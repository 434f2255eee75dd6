// Package outbox keeps committed history frames that still have to be
// exported to the audit stream. Entries move NEW -> SENT -> ACKED, or
// to FAILED after too many unsuccessful sends.
//
// The history log stays the source of truth. Frames above LastSeq can be
// refilled from it, and Put is idempotent per sequence number.
package outbox
