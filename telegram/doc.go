// Package telegram is the bot front end: commands, inline menus and a per-user session
// state machine on top of the chat service.
//
// The handler talks to Telegram through the Messenger interface. Bot implements it with
// github.com/go-telegram/bot and feeds inbound updates to Handler.Handle.
//
// Every update first passes the whitelist and a per-user rate limit. Updates of one user are
// then handled one at a time, in order.
package telegram
