package notify

// Payload keys. A payload carries only what the action router needs to route a
// later user action back into the application.
const (
	PayloadThreadID        = "notifyd.payload.threadId"
	PayloadCallBackAddress = "notifyd.payload.callBackAddress"
	PayloadLocalCallID     = "notifyd.payload.localCallId"
)

// Payload is the untyped bag attached to a shown notification. Values are a
// string for PayloadThreadID and PayloadLocalCallID and an Address for
// PayloadCallBackAddress.
type Payload map[string]any

// ThreadID returns the thread id entry, if present and a string.
func (p Payload) ThreadID() (string, bool) {
	s, ok := p[PayloadThreadID].(string)
	return s, ok
}

// Clone returns a shallow copy so adapters can keep it past the call.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
