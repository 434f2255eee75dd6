// Package history defines the lifecycle events of tasks and task attempts
// and their binary encoding.
//
// A body is laid out as
//
//	[presence bitmap][required fields][present optional fields in bit order]
//
// Older readers ignore presence bits and trailing bytes they do not know,
// so a newer build may add optional fields by appending them with the
// next free bit. Required fields and tags are never changed.
//
// Events are built with the variant builders and are immutable once built.
// Decoding goes through a Registry; DefaultRegistry holds all variants.
package history
