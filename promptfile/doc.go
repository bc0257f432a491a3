// Package promptfile loads the bot's system and title prompts: built-in defaults embedded in
// the binary, optionally overridden by a prompts.yaml manifest or plain text files in a directory.
package promptfile
