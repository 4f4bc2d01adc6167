// Package audio turns a drained capture buffer into an AudioClip: it checks
// the buffer size, decodes 16-bit little-endian PCM, measures the peak,
// normalizes the level and packages the result. WAV encoding is provided for
// handing the clip to a recognizer.
package audio
