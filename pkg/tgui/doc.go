// Package tgui holds the Telegram rendering helpers the notification tier
// uses: inline keyboards, scoped callback data and HTML parse mode text.
package tgui
