package notify

import "fmt"

// User visible notification text.
const (
	TextNewMessage          = "New Message"
	TextIncomingCall        = "☎️ Incoming Call"
	TextMissedCall          = "☎️ Missed Call"
	TextMissedCallUntrusted = "☎️ Missed call because the caller's safety number changed."
	TextFailedSend          = "Your message failed to send."

	textSafetyNumberChanged = "Your safety number with %s has changed."
	textMarkedVerified      = "You marked %s as verified."
	textMarkedUnverified    = "You marked %s as not verified."
	groupTitleFormat        = "%s to %s"
)

// IdentityChangeText is the info message stored when name's trust state
// becomes state.
func IdentityChangeText(name string, state VerificationState) string {
	switch state {
	case VerificationNoLongerVerified:
		return fmt.Sprintf(textSafetyNumberChanged, name)
	case VerificationVerified:
		return fmt.Sprintf(textMarkedVerified, name)
	default:
		return fmt.Sprintf(textMarkedUnverified, name)
	}
}
