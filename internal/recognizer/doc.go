// Package recognizer is the HTTP client for the speech recognition service.
// It uploads a captured clip as WAV and returns the recognized text. Retries
// are left to the caller; IsRetryable tells which failures are worth one.
package recognizer
