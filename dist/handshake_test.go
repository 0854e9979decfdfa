package dist

import (
	"encoding/binary"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestClientHandshakeScript reproduces spec.md §8's literal handshake
// scenario: a scripted peer sends status/challenge, and the client must
// emit exactly send_name, then the challenge reply frame, then reach
// connected after receiving a correct ack.
func TestClientHandshakeScript(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer clientConn.Close()
	defer peerConn.Close()

	cookie := "kaka"
	const challenge = 0xB0BABEEF

	errCh := make(chan error, 1)
	var clientChallengeA uint32
	go func() {
		// send_name
		nameBody, err := readFrame16(peerConn)
		if err != nil {
			errCh <- err
			return
		}
		if nameBody[0] != tagSendName {
			errCh <- io.ErrUnexpectedEOF
			return
		}

		// status
		if err := writeFrame16(peerConn, composeStatus(true, "peer@host", 1)); err != nil {
			errCh <- err
			return
		}

		// challenge
		if err := writeFrame16(peerConn, composeChallenge(DistFlags, challenge, 1, "peer@host")); err != nil {
			errCh <- err
			return
		}

		// challenge reply
		replyBody, err := readFrame16(peerConn)
		if err != nil {
			errCh <- err
			return
		}
		reply, err := parseChallengeReply(replyBody)
		if err != nil {
			errCh <- err
			return
		}
		clientChallengeA = reply.challengeA
		want := genDigest(challenge, cookie)
		if reply.digest != want {
			errCh <- ErrBadDigest
			return
		}

		ack := genDigest(reply.challengeA, cookie)
		errCh <- writeFrame16(peerConn, composeChallengeAck(ack))
	}()

	peerName, peerCreation, err := clientHandshake(clientConn, "client@host", cookie, 0)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, "peer@host", peerName)
	require.Equal(t, uint32(1), peerCreation)
	require.NotZero(t, clientChallengeA)
}

func TestClientHandshakeBadDigest(t *testing.T) {
	clientConn, peerConn := net.Pipe()
	defer clientConn.Close()
	defer peerConn.Close()

	go func() {
		readFrame16(peerConn)
		writeFrame16(peerConn, composeStatus(true, "peer@host", 1))
		writeFrame16(peerConn, composeChallenge(DistFlags, 42, 1, "peer@host"))
		readFrame16(peerConn)
		var bad [16]byte
		binary.BigEndian.PutUint32(bad[:4], 0xDEADBEEF)
		writeFrame16(peerConn, composeChallengeAck(bad))
	}()

	_, _, err := clientHandshake(clientConn, "client@host", "kaka", 0)
	require.ErrorIs(t, err, ErrBadDigest)
}

func TestServerHandshake(t *testing.T) {
	serverConn, peerConn := net.Pipe()
	defer serverConn.Close()
	defer peerConn.Close()

	cookie := "kaka"
	errCh := make(chan error, 1)
	go func() {
		if err := writeFrame16(peerConn, composeSendName(DistFlags, 0, "client@host")); err != nil {
			errCh <- err
			return
		}
		if _, err := readFrame16(peerConn); err != nil { // status
			errCh <- err
			return
		}
		chalBody, err := readFrame16(peerConn)
		if err != nil {
			errCh <- err
			return
		}
		chal, err := parseChallenge(chalBody)
		if err != nil {
			errCh <- err
			return
		}
		challengeA := uint32(99)
		digest := genDigest(chal.challenge, cookie)
		if err := writeFrame16(peerConn, composeChallengeReply(challengeA, digest)); err != nil {
			errCh <- err
			return
		}
		ackBody, err := readFrame16(peerConn)
		if err != nil {
			errCh <- err
			return
		}
		gotAck, err := parseChallengeAck(ackBody)
		if err != nil {
			errCh <- err
			return
		}
		want := genDigest(challengeA, cookie)
		if gotAck != want {
			errCh <- ErrBadDigest
			return
		}
		errCh <- nil
	}()

	peerName, _, err := serverHandshake(serverConn, "server@host", cookie, 5)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, "client@host", peerName)
}
