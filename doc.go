// Package universalis holds the provider-agnostic chat model shared by every adapter:
// history turns, normalized responses, the closed provider set, user settings and the
// error taxonomy. It also carries the two text passes applied around provider calls:
// system-prompt date substitution and the reply sanitizer.
package universalis
