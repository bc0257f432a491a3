// Package render formats model replies for Telegram's HTML parse mode.
package render
