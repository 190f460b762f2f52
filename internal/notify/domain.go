package notify

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// VerificationState is the trust state of a recipient's identity key.
type VerificationState int

const (
	VerificationDefault VerificationState = iota
	VerificationVerified
	VerificationNoLongerVerified
)

func (v VerificationState) String() string {
	switch v {
	case VerificationVerified:
		return "verified"
	case VerificationNoLongerVerified:
		return "no_longer_verified"
	default:
		return "default"
	}
}

// ParseVerificationState accepts the String spelling of a state and its
// camel case form.
func ParseVerificationState(s string) (VerificationState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "default":
		return VerificationDefault, nil
	case "verified":
		return VerificationVerified, nil
	case "no_longer_verified", "nolongerverified":
		return VerificationNoLongerVerified, nil
	default:
		return VerificationDefault, fmt.Errorf("unknown verification state %q", s)
	}
}

// ThreadKind distinguishes one-to-one conversations from groups.
type ThreadKind int

const (
	ThreadDirect ThreadKind = iota
	ThreadGroup
)

// Address identifies a remote party. It is opaque to the notification layer and
// only carried through payloads so a later action can call it back.
type Address struct {
	UUID  string `json:"uuid,omitempty" validate:"required_without=Phone,omitempty,uuid"`
	Phone string `json:"phone,omitempty" validate:"required_without=UUID,omitempty,e164"`
}

func (a Address) IsValid() bool {
	return strings.TrimSpace(a.UUID) != "" || strings.TrimSpace(a.Phone) != ""
}

func (a Address) String() string {
	if a.UUID != "" {
		return a.UUID
	}
	return a.Phone
}

// Recipient is one member of a thread as seen by the identity subsystem.
type Recipient struct {
	Address      Address
	DisplayName  string
	Verification VerificationState
}

// Thread is a conversation. It is owned by the storage layer; the notification
// layer only reads it.
type Thread struct {
	ID         string
	Kind       ThreadKind
	GroupName  string
	Muted      bool
	Recipients []Recipient
}

// Name is the human readable thread name: the group name for groups, the
// other party's display name for direct threads.
func (t Thread) Name() string {
	if t.Kind == ThreadGroup {
		if strings.TrimSpace(t.GroupName) != "" {
			return t.GroupName
		}
		return "Group"
	}
	for _, r := range t.Recipients {
		if r.DisplayName != "" {
			return r.DisplayName
		}
		if r.Address.IsValid() {
			return r.Address.String()
		}
	}
	return "Unknown"
}

// HasNoLongerVerifiedRecipient reports whether any recipient's identity changed
// after it was verified.
func (t Thread) HasNoLongerVerifiedRecipient() bool {
	for _, r := range t.Recipients {
		if r.Verification == VerificationNoLongerVerified {
			return true
		}
	}
	return false
}

// Call is a one-to-one call session as seen by the notification layer.
type Call struct {
	LocalID            uuid.UUID
	Remote             Address
	CallerName         string
	RemoteVerification VerificationState
}

// IncomingMessage is a newly received message on a thread.
type IncomingMessage struct {
	ID         string
	SenderName string
	Text       string
}

// InfoMessage is a system generated message on a thread (errors, safety number
// changes, send failures). Its text is never conversational content.
type InfoMessage struct {
	ID   string
	Text string
}
