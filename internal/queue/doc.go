// Package queue manages the lane-aware TTS message queue.
// It selects the next message to synthesize or play in FIFO order,
// enforces the mentions lane audio budget by evicting the oldest ready
// audio, and reports per-lane statistics.
package queue
