package history

import (
	"dagrecovery/infra/wire"
)

// Encode validates ev and returns its tag and body. Identical events
// always produce identical bytes.
func Encode(ev Event) (EventType, []byte, error) {
	return AppendEncode(nil, ev)
}

// AppendEncode is Encode into dst[:0], so callers can reuse a buffer.
// On error dst is returned untouched.
func AppendEncode(dst []byte, ev Event) (EventType, []byte, error) {
	if ev == nil {
		return 0, dst, &Error{Kind: ErrEncoding, Msg: "nil event"}
	}
	t := ev.Type()
	if v := ev.validate(); v != nil {
		return t, dst, v.as(ErrEncoding, t)
	}
	e := wire.NewEncoder(dst)
	ev.encodeBody(e)
	return t, e.Bytes(), nil
}

// Decode resolves tag in reg and decodes body. The decoded event must
// carry the tag it was framed with.
func Decode(reg *Registry, t EventType, body []byte) (Event, error) {
	dec, err := reg.Resolve(t)
	if err != nil {
		return nil, err
	}
	ev, err := dec(body)
	if err != nil {
		return nil, err
	}
	if ev.Type() != t {
		return nil, &Error{Kind: ErrCorruptData, Type: t, Msg: "decoded " + ev.Type().String()}
	}
	return ev, nil
}
