// Package batchcache keeps a verified local copy of each remote batch.
//
// The first Fetch of a batch syncs it from the remote store into a sibling
// temp directory, strips configured substrings from file names, writes the
// integrity manifest, and renames the directory into place. Later fetches
// re-verify the cached copy against its manifest and refuse to use it when
// anything drifted; repair is an explicit `cache drop`. Every fetch copies
// the batch into the caller's directory and verifies that copy too.
//
// Fetches of the same batch are serialized across processes with a lock
// file beside the cache entry.
package batchcache
