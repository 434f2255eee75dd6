package history

import (
	"errors"
	"fmt"
)

var (
	ErrEncoding              = errors.New("history: encoding error")
	ErrCorruptData           = errors.New("history: corrupt data")
	ErrDuplicateRegistration = errors.New("history: duplicate registration")
	ErrUnknownEventType      = errors.New("history: unknown event type")
	ErrRegistryFrozen        = errors.New("history: registry is frozen")
	ErrInvalidID             = errors.New("history: invalid entity id")
)

// Error carries the failing event type and field. Kind is one of the
// sentinels above and is matched with errors.Is.
type Error struct {
	Kind  error
	Type  EventType
	Field string
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	where := e.Type.String()
	if e.Field != "" {
		where += "." + e.Field
	}
	msg := e.Msg
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind.Error(), where, msg)
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// violation is a field-level validation failure, reported as an encoding
// error on the write path and as corrupt data on the read path.
type violation struct {
	field string
	msg   string
}

func (v *violation) as(kind error, t EventType) error {
	return &Error{Kind: kind, Type: t, Field: v.field, Msg: v.msg}
}

func missing(field string) *violation {
	return &violation{field: field, msg: "required field unset"}
}

func invalidf(field, format string, args ...any) *violation {
	return &violation{field: field, msg: fmt.Sprintf(format, args...)}
}

func corrupt(t EventType, cause error) error {
	return &Error{Kind: ErrCorruptData, Type: t, Cause: cause}
}

func checkTaskID(field string, id TaskID) *violation {
	if id.IsZero() {
		return missing(field)
	}
	if id.negative() {
		return invalidf(field, "negative component in %s", id)
	}
	return nil
}

func checkAttemptID(field string, id AttemptID) *violation {
	if id.IsZero() {
		return missing(field)
	}
	if id.negative() {
		return invalidf(field, "negative component in %s", id)
	}
	return nil
}

// checkOptionalAttempt accepts an absent id; a present one must be valid.
func checkOptionalAttempt(field string, o Optional[AttemptID]) *violation {
	id, ok := o.Get()
	if !ok {
		return nil
	}
	if id.IsZero() {
		return invalidf(field, "present but zero")
	}
	if id.negative() {
		return invalidf(field, "negative component in %s", id)
	}
	return nil
}
