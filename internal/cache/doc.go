// Package cache stores synthesized PCM audio on disk, keyed by the text,
// voice and speed that produced it, so repeated chat messages skip the
// engine. Entries are zstd-compressed and evicted oldest-access first once
// the byte capacity is reached.
package cache
