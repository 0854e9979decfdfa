package dist

import (
	"bytes"

	"github.com/gopherlang/ernode/term"
)

func newBytesReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}

// decodeOne decodes a single version-prefixed term from r and reports how
// many bytes of the original buffer it consumed, so a caller can locate a
// second (optional) term immediately following the first in the same frame.
func decodeOne(r *bytes.Reader, identity *term.Identity) (term.Term, int, error) {
	before := r.Len()
	t, err := term.Decode(r, identity)
	if err != nil {
		return nil, 0, err
	}
	consumed := before - r.Len()
	return t, consumed, nil
}
