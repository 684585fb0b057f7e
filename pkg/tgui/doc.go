// Package tgui holds small helpers for building Telegram HTML messages.
//
// Text passed through Esc, B, I or Code is escaped; H values are treated as
// already safe and are never escaped again.
package tgui
