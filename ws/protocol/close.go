package protocol

import "unicode/utf8"

// MaxCloseReasonBytes is the room a close control frame leaves for the
// reason text. Control frame payloads are capped at 125 bytes and the
// close code uses 2 of them.
const MaxCloseReasonBytes = 123

// TruncateCloseReason shortens reason to fit a close control frame,
// cutting on a rune boundary so the payload stays valid UTF-8.
func TruncateCloseReason(reason string) string {
	if len(reason) <= MaxCloseReasonBytes {
		return reason
	}

	cut := reason[:MaxCloseReasonBytes-3]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}

	return cut + "..."
}
