package notify

import "fmt"

// Category is the closed set of notification kinds. It decides which actions
// a shown notification offers.
type Category int

const (
	CategoryIncomingMessageWithActions Category = iota
	CategoryIncomingMessageWithoutActions
	CategoryIncomingMessageUnverifiedIdentity
	CategoryInfoOrError
	CategoryThreadlessError
	CategoryIncomingCall
	CategoryMissedCallWithActions
	CategoryMissedCallWithoutActions
	CategoryMissedCallUnverifiedIdentity

	categoryCount
)

// Action is the closed set of responses a user can invoke on a notification.
type Action int

const (
	ActionAnswerCall Action = iota
	ActionCallBack
	ActionDeclineCall
	ActionMarkAsRead
	ActionReply
	ActionShowThread

	actionCount
)

var categoryIdentifiers = [...]string{
	CategoryIncomingMessageWithActions:        "notifyd.category.incomingMessageWithActions",
	CategoryIncomingMessageWithoutActions:     "notifyd.category.incomingMessageWithoutActions",
	CategoryIncomingMessageUnverifiedIdentity: "notifyd.category.incomingMessageFromNoLongerVerifiedIdentity",
	CategoryInfoOrError:                       "notifyd.category.infoOrErrorMessage",
	CategoryThreadlessError:                   "notifyd.category.threadlessErrorMessage",
	CategoryIncomingCall:                      "notifyd.category.incomingCall",
	CategoryMissedCallWithActions:             "notifyd.category.missedCallWithActions",
	CategoryMissedCallWithoutActions:          "notifyd.category.missedCallWithoutActions",
	CategoryMissedCallUnverifiedIdentity:      "notifyd.category.missedCallFromNoLongerVerifiedIdentity",
}

var categoryActions = [...][]Action{
	CategoryIncomingMessageWithActions:        {ActionMarkAsRead, ActionReply},
	CategoryIncomingMessageWithoutActions:     nil,
	CategoryIncomingMessageUnverifiedIdentity: {ActionMarkAsRead, ActionShowThread},
	CategoryInfoOrError:                       nil,
	CategoryThreadlessError:                   nil,
	CategoryIncomingCall:                      {ActionDeclineCall, ActionAnswerCall},
	CategoryMissedCallWithActions:             {ActionCallBack},
	CategoryMissedCallWithoutActions:          nil,
	CategoryMissedCallUnverifiedIdentity:      {ActionShowThread},
}

var actionIdentifiers = [...]string{
	ActionAnswerCall:  "notifyd.action.answerCall",
	ActionCallBack:    "notifyd.action.callBack",
	ActionDeclineCall: "notifyd.action.declineCall",
	ActionMarkAsRead:  "notifyd.action.markAsRead",
	ActionReply:       "notifyd.action.reply",
	ActionShowThread:  "notifyd.action.showThread",
}

var actionTitles = [...]string{
	ActionAnswerCall:  "Answer",
	ActionCallBack:    "Call Back",
	ActionDeclineCall: "Decline",
	ActionMarkAsRead:  "Mark as Read",
	ActionReply:       "Reply",
	ActionShowThread:  "Show",
}

// Every table above must have exactly one entry per constant. A constant added
// without a table entry (or the other way round) makes one of these array
// lengths negative and the package stops compiling.
var (
	_ [len(categoryIdentifiers) - int(categoryCount)]struct{}
	_ [int(categoryCount) - len(categoryIdentifiers)]struct{}
	_ [len(categoryActions) - int(categoryCount)]struct{}
	_ [int(categoryCount) - len(categoryActions)]struct{}
	_ [len(actionIdentifiers) - int(actionCount)]struct{}
	_ [int(actionCount) - len(actionIdentifiers)]struct{}
	_ [len(actionTitles) - int(actionCount)]struct{}
	_ [int(actionCount) - len(actionTitles)]struct{}
)

func (c Category) valid() bool { return c >= 0 && c < categoryCount }

// Identifier is the stable string the OS notification layer knows this category by.
func (c Category) Identifier() string {
	if !c.valid() {
		return ""
	}
	return categoryIdentifiers[c]
}

// Actions returns the ordered actions offered by notifications of this category.
// The returned slice is a copy.
func (c Category) Actions() []Action {
	if !c.valid() {
		return nil
	}
	return append([]Action(nil), categoryActions[c]...)
}

// Allows reports whether a notification of this category offers a.
func (c Category) Allows(a Action) bool {
	if !c.valid() {
		return false
	}
	for _, x := range categoryActions[c] {
		if x == a {
			return true
		}
	}
	return false
}

func (c Category) String() string {
	if !c.valid() {
		return fmt.Sprintf("Category(%d)", int(c))
	}
	return categoryIdentifiers[c]
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, 0, categoryCount)
	for c := Category(0); c < categoryCount; c++ {
		out = append(out, c)
	}
	return out
}

// ParseCategory maps an identifier back to its Category.
func ParseCategory(id string) (Category, bool) {
	for i, s := range categoryIdentifiers {
		if s == id {
			return Category(i), true
		}
	}
	return 0, false
}

func (a Action) valid() bool { return a >= 0 && a < actionCount }

// Identifier is the stable string the OS notification layer knows this action by.
func (a Action) Identifier() string {
	if !a.valid() {
		return ""
	}
	return actionIdentifiers[a]
}

// Title is the button label shown for this action.
func (a Action) Title() string {
	if !a.valid() {
		return ""
	}
	return actionTitles[a]
}

func (a Action) String() string {
	if !a.valid() {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionIdentifiers[a]
}

// Actions lists every action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, actionCount)
	for a := Action(0); a < actionCount; a++ {
		out = append(out, a)
	}
	return out
}

// ParseAction maps an identifier back to its Action.
func ParseAction(id string) (Action, bool) {
	for i, s := range actionIdentifiers {
		if s == id {
			return Action(i), true
		}
	}
	return 0, false
}
