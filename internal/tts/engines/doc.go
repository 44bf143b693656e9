// Package engines contains the speech engines behind tts.Synthesizer:
// Piper (offline subprocess), gTTS (online, via gtts-cli and ffmpeg) and a
// mock engine for dry runs and tests. Each implements tts.Engine.
package engines
