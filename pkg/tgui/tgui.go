package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Button is one inline keyboard button.
type Button = tele.InlineButton

// Btn returns a callback button carrying data verbatim.
func Btn(text, data string) Button { return Button{Text: text, Data: data} }

// Keyboard collects inline keyboard rows.
type Keyboard struct {
	rows [][]tele.InlineButton
}

func NewKeyboard() *Keyboard { return &Keyboard{} }

// Row appends one row. Empty rows are skipped.
func (k *Keyboard) Row(btns ...Button) *Keyboard {
	if len(btns) > 0 {
		k.rows = append(k.rows, append([]tele.InlineButton(nil), btns...))
	}
	return k
}

func (k *Keyboard) Empty() bool { return len(k.rows) == 0 }

// Markup returns the keyboard as reply markup for a send or edit.
func (k *Keyboard) Markup() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{InlineKeyboard: k.rows}
}
