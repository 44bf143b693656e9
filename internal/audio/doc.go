// Package audio encodes synthesized PCM into WAV artifacts and plays them
// back on the local output device using oto/v3.
package audio
