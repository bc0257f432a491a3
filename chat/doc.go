// Package chat implements the conversation workflows behind the bot: sending text and photos,
// starting and titling conversations, generating images and paging through history.
//
// Provider replies are persisted only after they arrive, together with the user turns that
// produced them, in a single store transaction.
package chat
