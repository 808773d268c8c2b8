package tgui

import (
	"errors"
	"fmt"
)

const (
	// MaxCallbackDataLen is Telegram's callback_data size limit in bytes.
	MaxCallbackDataLen = 64
	// MaxMessageRunes is Telegram's text limit for a single message.
	MaxMessageRunes = 4096
)

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// CheckData validates callback data against Telegram's limit.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return fmt.Errorf("%w: %q is %d bytes", ErrCallbackDataTooLong, data, len(data))
	}
	return nil
}
