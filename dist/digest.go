package dist

import (
	"crypto/md5"
	"encoding/binary"
	"math/rand"
	"strconv"
)

// genDigest computes MD5(cookie || decimal_ascii(challenge)), the mutual
// authentication primitive used by both sides of the handshake (spec.md
// §4.D). crypto/md5 is used directly: this is the wire-mandated primitive,
// not a design choice, and no third-party MD5 implementation appears
// anywhere in the example corpus.
func genDigest(challenge uint32, cookie string) [16]byte {
	h := md5.New()
	h.Write([]byte(cookie))
	h.Write([]byte(strconv.FormatUint(uint64(challenge), 10)))
	var sum [16]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// newChallenge generates a fresh 32-bit pseudorandom challenge value.
func newChallenge() uint32 {
	return rand.Uint32()
}

// NewUnlinkID generates a fresh 64-bit unlink correlation id (spec.md
// §4.C.3), exported so package node can tag outstanding UNLINK_ID requests.
func NewUnlinkID() uint64 {
	var b [8]byte
	rand.Read(b[:])
	return binary.BigEndian.Uint64(b[:])
}
