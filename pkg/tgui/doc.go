// Package tgui provides small Telegram UI helpers: inline keyboard builders
// and text trimming for user-facing replies.
package tgui
