// Package memory provides typed object pools used on the append path to
// reuse encode and frame buffers between events.
package memory
