package forest

import (
	"fmt"
	"strings"
)

// Token codec for materialized paths.
//
// A record identifier is stored on the path as a self-delimiting token:
// one base-36 digit giving the length of the body, followed by the
// identifier itself in base-36 (digits 0-9A-Z, most significant first).
// A whole path is just the concatenation of the tokens of every strict
// ancestor, root first. Being self-delimiting, a path can be decoded
// with a single forward scan and no separators.

const base36Digits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// maxBase36Len is the longest base-36 body an int64 can produce ("1Y2P0IJ32E8E7").
const maxBase36Len = 13

// EncodeID converts a non-negative identifier into its path token.
// Negative identifiers are rejected with ErrInvalidArgument.
func EncodeID(id int64) (string, error) {
	if id < 0 {
		return "", fmt.Errorf("%w: cannot encode negative id %d", ErrInvalidArgument, id)
	}
	body := encodeBase36(id)
	// int64 bodies never exceed 13 digits, so one length digit always fits.
	return string(base36Digits[len(body)]) + body, nil
}

// encodeBase36 renders n in base-36, no leading zeros. 0 renders as "0".
func encodeBase36(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [maxBase36Len]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = base36Digits[n%36]
		n /= 36
	}
	return string(buf[i:])
}

// DecodeTokenAt reads one token starting at cursor and returns the
// decoded identifier together with the cursor just past the token.
// Any structural problem (cursor out of bounds, length digit overruns
// the string, non-base-36 characters) is ErrMalformedPath: paths are
// derived data, so a token that does not parse means the stored path
// is corrupt and the caller should hear about it.
func DecodeTokenAt(path string, cursor int) (int64, int, error) {
	if cursor < 0 || cursor >= len(path) {
		return 0, 0, fmt.Errorf("%w: token cursor %d out of bounds for %q", ErrMalformedPath, cursor, path)
	}
	bodyLen, ok := base36Digit(path[cursor])
	if !ok {
		return 0, 0, fmt.Errorf("%w: bad length digit %q at %d in %q", ErrMalformedPath, path[cursor], cursor, path)
	}
	if bodyLen == 0 {
		return 0, 0, fmt.Errorf("%w: zero-length token body at %d in %q", ErrMalformedPath, cursor, path)
	}
	end := cursor + 1 + int(bodyLen)
	if end > len(path) {
		return 0, 0, fmt.Errorf("%w: token at %d declares %d body chars but only %d remain in %q",
			ErrMalformedPath, cursor, bodyLen, len(path)-cursor-1, path)
	}

	var id int64
	for i := cursor + 1; i < end; i++ {
		d, ok := base36Digit(path[i])
		if !ok {
			return 0, 0, fmt.Errorf("%w: bad base-36 digit %q at %d in %q", ErrMalformedPath, path[i], i, path)
		}
		if id > (1<<63-1-d)/36 {
			return 0, 0, fmt.Errorf("%w: token at %d overflows int64 in %q", ErrMalformedPath, cursor, path)
		}
		id = id*36 + d
	}
	return id, end, nil
}

// DecodePath decodes a full path into its ordered identifier chain,
// root first. The empty path decodes to an empty (non-nil) slice.
func DecodePath(path string) ([]int64, error) {
	ids := make([]int64, 0, len(path)/2)
	cursor := 0
	for cursor < len(path) {
		id, next, err := DecodeTokenAt(path, cursor)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		cursor = next
	}
	return ids, nil
}

// EncodePath concatenates the tokens of the given identifiers in order.
// An empty slice yields the empty string; the record model stores that
// as an absent path, not as ""; callers map between the two.
func EncodePath(ids []int64) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		tok, err := EncodeID(id)
		if err != nil {
			return "", err
		}
		b.WriteString(tok)
	}
	return b.String(), nil
}

// base36Digit maps one character of the 0-9A-Z alphabet to its value.
func base36Digit(c byte) (int64, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int64(c - '0'), true
	case c >= 'A' && c <= 'Z':
		return int64(c-'A') + 10, true
	}
	return 0, false
}
