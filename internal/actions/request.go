package actions

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"notifyd/internal/notify"
)

// Request is a decoded, typed action request. Each action has exactly one
// variant carrying exactly the fields it needs.
type Request interface {
	Action() notify.Action
}

type AnswerCall struct{ LocalCallID uuid.UUID }

type DeclineCall struct{ LocalCallID uuid.UUID }

type CallBack struct{ Address notify.Address }

type MarkAsRead struct{ ThreadID string }

type Reply struct {
	ThreadID string
	Text     string
}

type ShowThread struct{ ThreadID string }

func (AnswerCall) Action() notify.Action  { return notify.ActionAnswerCall }
func (DeclineCall) Action() notify.Action { return notify.ActionDeclineCall }
func (CallBack) Action() notify.Action    { return notify.ActionCallBack }
func (MarkAsRead) Action() notify.Action  { return notify.ActionMarkAsRead }
func (Reply) Action() notify.Action       { return notify.ActionReply }
func (ShowThread) Action() notify.Action  { return notify.ActionShowThread }

// Raw payload shapes, checked with struct tags before conversion.
type callFields struct {
	LocalCallID string `validate:"required,uuid"`
}

type threadFields struct {
	ThreadID string `validate:"required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode turns the untyped payload of a notification into the typed request for
// action. The required fields depend only on the action.
func Decode(action notify.Action, payload notify.Payload, replyText string) (Request, error) {
	switch action {
	case notify.ActionAnswerCall, notify.ActionDeclineCall:
		id, err := decodeCallID(action, payload)
		if err != nil {
			return nil, err
		}
		if action == notify.ActionAnswerCall {
			return AnswerCall{LocalCallID: id}, nil
		}
		return DeclineCall{LocalCallID: id}, nil

	case notify.ActionCallBack:
		addr, err := decodeAddress(action, payload)
		if err != nil {
			return nil, err
		}
		return CallBack{Address: addr}, nil

	case notify.ActionMarkAsRead, notify.ActionShowThread, notify.ActionReply:
		threadID, err := decodeThreadID(action, payload)
		if err != nil {
			return nil, err
		}
		switch action {
		case notify.ActionMarkAsRead:
			return MarkAsRead{ThreadID: threadID}, nil
		case notify.ActionShowThread:
			return ShowThread{ThreadID: threadID}, nil
		default:
			return Reply{ThreadID: threadID, Text: replyText}, nil
		}
	}
	return nil, invalid(action, "", "unknown action")
}

func decodeCallID(action notify.Action, payload notify.Payload) (uuid.UUID, error) {
	v, ok := payload[notify.PayloadLocalCallID]
	if !ok {
		return uuid.Nil, invalid(action, "localCallId", "missing")
	}
	raw, ok := v.(string)
	if !ok {
		return uuid.Nil, invalid(action, "localCallId", "not a string")
	}
	if err := validate.Struct(callFields{LocalCallID: raw}); err != nil {
		return uuid.Nil, invalidf(action, "localCallId", firstFieldError(err), "not a uuid")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, invalidf(action, "localCallId", err, "not a uuid")
	}
	return id, nil
}

func decodeAddress(action notify.Action, payload notify.Payload) (notify.Address, error) {
	v, ok := payload[notify.PayloadCallBackAddress]
	if !ok || v == nil {
		return notify.Address{}, invalid(action, "callBackAddress", "missing")
	}
	var addr notify.Address
	switch a := v.(type) {
	case notify.Address:
		addr = a
	case *notify.Address:
		if a == nil {
			return notify.Address{}, invalid(action, "callBackAddress", "missing")
		}
		addr = *a
	default:
		return notify.Address{}, invalid(action, "callBackAddress", "not an address")
	}
	if err := validate.Struct(addr); err != nil {
		return notify.Address{}, invalidf(action, "callBackAddress", firstFieldError(err), "malformed address")
	}
	return addr, nil
}

func decodeThreadID(action notify.Action, payload notify.Payload) (string, error) {
	v, ok := payload[notify.PayloadThreadID]
	if !ok {
		return "", invalid(action, "threadId", "missing")
	}
	raw, ok := v.(string)
	if !ok {
		return "", invalid(action, "threadId", "not a string")
	}
	if err := validate.Struct(threadFields{ThreadID: raw}); err != nil {
		return "", invalidf(action, "threadId", firstFieldError(err), "empty")
	}
	return raw, nil
}

// firstFieldError trims validator's aggregate error to the first field failure.
func firstFieldError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0]
	}
	return err
}
