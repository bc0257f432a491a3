// Package catalog caches the model lists offered by each provider, with a TTL and
// deduplicated concurrent fetches.
package catalog
