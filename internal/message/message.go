// Package message defines the p2pboard payload rules.
//
// A message is the raw UTF-8 clipboard text carried in one WebSocket text
// frame. There is no envelope, sequence number or sender identity:
//
//	<clipboard text>
//
// Payloads must be non-empty and at most MaxSize bytes. The same limits are
// enforced by the client before sending and by the relay before broadcasting.
package message

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// MaxSize is the largest payload accepted anywhere in the system (1 MiB).
const MaxSize = 1024 * 1024

var (
	// ErrEmpty is returned for zero-length payloads.
	ErrEmpty = errors.New("message: empty payload")
	// ErrTooLarge is returned for payloads longer than MaxSize.
	ErrTooLarge = errors.New("message: payload exceeds 1 MiB")
)

// Validate checks payload against the size rules. The returned error wraps
// ErrEmpty or ErrTooLarge.
func Validate(payload []byte) error {
	switch {
	case len(payload) == 0:
		return ErrEmpty
	case len(payload) > MaxSize:
		return fmt.Errorf("%w (%d bytes)", ErrTooLarge, len(payload))
	}
	return nil
}

// Fingerprint returns a comparable digest of text used to recognise echoed
// updates.
func Fingerprint(text string) uint64 {
	return xxhash.Sum64String(text)
}

// Preview returns text truncated to n bytes for debug logging, with an
// ellipsis appended when truncated. Truncation never splits a UTF-8 sequence.
func Preview(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := n
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
