package dist

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DistFlags is the send_name capability bitmask (spec.md §6). The exact bit
// set a modern handshake must advertise.
const DistFlags uint64 = 0x4 | 0x10 | 0x80 | 0x100 | 0x200 | 0x400 | 0x800 |
	0x10000 | 0x20000 | 0x40000 | 0x80000 | 0x1000000 | 0x2000000 |
	(1 << 33) | (1 << 34) | (1 << 36)

// Phase is the handshake state.
type Phase int

const (
	PhaseStart Phase = iota
	PhaseAwaitStatus
	PhaseAwaitChallenge
	PhaseAwaitAck
	PhaseConnected

	// Acceptor-only states, mirroring the dialer's FSM in reverse (spec.md
	// §4.D describes the dial direction; a node that only dials out can
	// never be rpc'd into, so accepting connections needs the mirror image).
	PhaseAwaitName
	PhaseAwaitChallengeReply
)

// handshake tags on the wire.
const (
	tagSendName        = 'N'
	tagStatus          = 's'
	tagChallenge       = 'N'
	tagChallengeReply  = 'r'
	tagChallengeAck    = 'a'
)

// composeSendName builds the send_name ('N') frame body.
func composeSendName(flags uint64, creation uint32, name string) []byte {
	buf := make([]byte, 1+8+4+2+len(name))
	buf[0] = tagSendName
	binary.BigEndian.PutUint64(buf[1:9], flags)
	binary.BigEndian.PutUint32(buf[9:13], creation)
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(name)))
	copy(buf[15:], name)
	return buf
}

type peerName struct {
	flags    uint64
	creation uint32
	name     string
}

// parseSendName parses a peer's 'N' send_name frame (used by the acceptor
// side of the handshake).
func parseSendName(body []byte) (peerName, error) {
	if len(body) < 1 || body[0] != tagSendName {
		return peerName{}, fmt.Errorf("%w: expected send_name, got tag %q", ErrHandshake, tagOf(body))
	}
	if len(body) < 15 {
		return peerName{}, fmt.Errorf("%w: short send_name frame", ErrHandshake)
	}
	flags := binary.BigEndian.Uint64(body[1:9])
	creation := binary.BigEndian.Uint32(body[9:13])
	nlen := binary.BigEndian.Uint16(body[13:15])
	if len(body) < 15+int(nlen) {
		return peerName{}, fmt.Errorf("%w: truncated send_name name", ErrHandshake)
	}
	return peerName{flags: flags, creation: creation, name: string(body[15 : 15+int(nlen)])}, nil
}

// composeStatus builds a "snamed:" status reply used by the acceptor.
func composeStatus(ok bool, name string, creation uint32) []byte {
	if !ok {
		return []byte("salive")
	}
	body := []byte("snamed:")
	var nl [2]byte
	binary.BigEndian.PutUint16(nl[:], uint16(len(name)))
	body = append(body, nl[:]...)
	body = append(body, []byte(name)...)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], creation)
	body = append(body, cb[:]...)
	return body
}

type statusResp struct {
	named    bool
	name     string
	creation uint32
}

// parseStatus parses the dialer-side status response: either
// "snamed:"+nlen+name+creation(u32), or anything else (e.g. "salive"), which
// is an error (spec.md §9: the source fails closed on "alive" and unknown
// statuses — behavior there is unspecified, so we do too).
func parseStatus(body []byte) (statusResp, error) {
	const prefix = "snamed:"
	if len(body) < len(prefix) || string(body[:len(prefix)]) != prefix {
		return statusResp{}, fmt.Errorf("%w: unexpected status %q", ErrHandshake, string(body))
	}
	rest := body[len(prefix):]
	if len(rest) < 2 {
		return statusResp{}, fmt.Errorf("%w: short snamed status", ErrHandshake)
	}
	nlen := binary.BigEndian.Uint16(rest[0:2])
	rest = rest[2:]
	if len(rest) < int(nlen)+4 {
		return statusResp{}, fmt.Errorf("%w: short snamed status body", ErrHandshake)
	}
	name := string(rest[:nlen])
	creation := binary.BigEndian.Uint32(rest[nlen : nlen+4])
	return statusResp{named: true, name: name, creation: creation}, nil
}

type challengeMsg struct {
	flags     uint64
	challenge uint32
	creation  uint32
	name      string
}

// parseChallenge parses the peer's 'N' challenge frame: flags(8)
// challenge(4) creation(4) nlen(2) name(nlen).
func parseChallenge(body []byte) (challengeMsg, error) {
	if len(body) < 1 || body[0] != tagChallenge {
		return challengeMsg{}, fmt.Errorf("%w: expected challenge, got tag %q", ErrHandshake, tagOf(body))
	}
	if len(body) < 19 {
		return challengeMsg{}, fmt.Errorf("%w: short challenge frame", ErrHandshake)
	}
	flags := binary.BigEndian.Uint64(body[1:9])
	challenge := binary.BigEndian.Uint32(body[9:13])
	creation := binary.BigEndian.Uint32(body[13:17])
	nlen := binary.BigEndian.Uint16(body[17:19])
	if len(body) < 19+int(nlen) {
		return challengeMsg{}, fmt.Errorf("%w: truncated challenge name", ErrHandshake)
	}
	return challengeMsg{
		flags:     flags,
		challenge: challenge,
		creation:  creation,
		name:      string(body[19 : 19+int(nlen)]),
	}, nil
}

// composeChallenge builds the acceptor's 'N' challenge frame.
func composeChallenge(flags uint64, challenge, creation uint32, name string) []byte {
	buf := make([]byte, 1+8+4+4+2+len(name))
	buf[0] = tagChallenge
	binary.BigEndian.PutUint64(buf[1:9], flags)
	binary.BigEndian.PutUint32(buf[9:13], challenge)
	binary.BigEndian.PutUint32(buf[13:17], creation)
	binary.BigEndian.PutUint16(buf[17:19], uint16(len(name)))
	copy(buf[19:], name)
	return buf
}

// composeChallengeReply builds the dialer's 'r' challenge reply: 'r' +
// challenge_a(u32) + digest(16 bytes).
func composeChallengeReply(challengeA uint32, digest [16]byte) []byte {
	buf := make([]byte, 1+4+16)
	buf[0] = tagChallengeReply
	binary.BigEndian.PutUint32(buf[1:5], challengeA)
	copy(buf[5:], digest[:])
	return buf
}

type challengeReply struct {
	challengeA uint32
	digest     [16]byte
}

func parseChallengeReply(body []byte) (challengeReply, error) {
	if len(body) < 1 || body[0] != tagChallengeReply {
		return challengeReply{}, fmt.Errorf("%w: expected challenge reply, got tag %q", ErrHandshake, tagOf(body))
	}
	if len(body) < 21 {
		return challengeReply{}, fmt.Errorf("%w: short challenge reply", ErrHandshake)
	}
	var r challengeReply
	r.challengeA = binary.BigEndian.Uint32(body[1:5])
	copy(r.digest[:], body[5:21])
	return r, nil
}

// composeChallengeAck builds the acceptor's 'a' ack: 'a' + digest(16 bytes).
func composeChallengeAck(digest [16]byte) []byte {
	buf := make([]byte, 1+16)
	buf[0] = tagChallengeAck
	copy(buf[1:], digest[:])
	return buf
}

func parseChallengeAck(body []byte) ([16]byte, error) {
	var digest [16]byte
	if len(body) < 1 || body[0] != tagChallengeAck {
		return digest, fmt.Errorf("%w: expected challenge ack, got tag %q", ErrHandshake, tagOf(body))
	}
	if len(body) < 17 {
		return digest, fmt.Errorf("%w: short challenge ack", ErrHandshake)
	}
	copy(digest[:], body[1:17])
	return digest, nil
}

func tagOf(body []byte) byte {
	if len(body) == 0 {
		return 0
	}
	return body[0]
}

// clientHandshake drives the dialer side of the FSM described in spec.md
// §4.D: start → await_status → await_challenge → send_challenge_reply →
// await_ack → connected.
func clientHandshake(rw io.ReadWriter, selfName, cookie string, creation uint32) (peerName string, peerCreation uint32, err error) {
	if err := writeFrame16(rw, composeSendName(DistFlags, creation, selfName)); err != nil {
		return "", 0, err
	}

	statusBody, err := readFrame16(rw)
	if err != nil {
		return "", 0, err
	}
	status, err := parseStatus(statusBody)
	if err != nil {
		return "", 0, err
	}

	challengeBody, err := readFrame16(rw)
	if err != nil {
		return "", 0, err
	}
	chal, err := parseChallenge(challengeBody)
	if err != nil {
		return "", 0, err
	}

	challengeA := newChallenge()
	digest := genDigest(chal.challenge, cookie)
	if err := writeFrame16(rw, composeChallengeReply(challengeA, digest)); err != nil {
		return "", 0, err
	}

	ackBody, err := readFrame16(rw)
	if err != nil {
		return "", 0, err
	}
	gotDigest, err := parseChallengeAck(ackBody)
	if err != nil {
		return "", 0, err
	}
	want := genDigest(challengeA, cookie)
	if gotDigest != want {
		return "", 0, ErrBadDigest
	}

	_ = status
	return chal.name, chal.creation, nil
}

// serverHandshake drives the acceptor side: await_name → send_status →
// send_challenge → await_challenge_reply → verify → send_ack → connected.
func serverHandshake(rw io.ReadWriter, selfName, cookie string, creation uint32) (peerName string, peerCreation uint32, err error) {
	nameBody, err := readFrame16(rw)
	if err != nil {
		return "", 0, err
	}
	pn, err := parseSendName(nameBody)
	if err != nil {
		return "", 0, err
	}

	if err := writeFrame16(rw, composeStatus(true, selfName, creation)); err != nil {
		return "", 0, err
	}

	challenge := newChallenge()
	if err := writeFrame16(rw, composeChallenge(DistFlags, challenge, creation, selfName)); err != nil {
		return "", 0, err
	}

	replyBody, err := readFrame16(rw)
	if err != nil {
		return "", 0, err
	}
	reply, err := parseChallengeReply(replyBody)
	if err != nil {
		return "", 0, err
	}
	want := genDigest(challenge, cookie)
	if reply.digest != want {
		return "", 0, ErrBadDigest
	}

	ackDigest := genDigest(reply.challengeA, cookie)
	if err := writeFrame16(rw, composeChallengeAck(ackDigest)); err != nil {
		return "", 0, err
	}

	return pn.name, pn.creation, nil
}
