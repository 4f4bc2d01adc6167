// Package protocol implements the marker-delimited audio frame formats spoken by the
// microphone peripheral. It covers both wire framings (wifi and serial), frame encoding,
// and a streaming decoder that resynchronizes after corrupted or misaligned bytes.
package protocol
