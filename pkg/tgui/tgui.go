package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline builds an inline keyboard row by row. Every button's callback data
// is checked with CheckData; the first violation is kept in Err.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
	err  error
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends a row of buttons.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	for _, b := range btn {
		if err := CheckData(b.Data); err != nil && i.err == nil {
			i.err = err
		}
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	i.rm.Inline(i.rows...)
	return i
}

// Err reports the first invalid button added.
func (i *Inline) Err() error { return i.err }

func (i *Inline) Markup() *tele.ReplyMarkup { return i.rm }

// Btn creates a callback button with raw callback_data.
func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}
