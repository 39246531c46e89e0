package loopback

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/flynn/noise"

	"github.com/opd-ai/toxclient/engine"
)

// ErrPeerKeyMismatch indicates the handshake authenticated an unexpected key.
var ErrPeerKeyMismatch = errors.New("handshake peer key mismatch")

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// secureSession is an established Noise IK channel to one friend.
type secureSession struct {
	id   uint64
	send *noise.CipherState
	recv *noise.CipherState
}

func (s *secureSession) seal(plaintext []byte) ([]byte, error) {
	return s.send.Encrypt(nil, nil, plaintext)
}

func (s *secureSession) open(ciphertext []byte) ([]byte, error) {
	return s.recv.Decrypt(nil, nil, ciphertext)
}

// pendingHandshake is the initiator side waiting for the responder.
type pendingHandshake struct {
	id    uint64
	state *noise.HandshakeState
}

func newHandshakeState(self *KeyPair, peer *engine.PublicKey, initiator bool) (*noise.HandshakeState, error) {
	static := noise.DHKey{
		Private: append([]byte(nil), self.Private[:]...),
		Public:  append([]byte(nil), self.Public[:]...),
	}
	config := noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeIK,
		Initiator:     initiator,
		StaticKeypair: static,
	}
	if peer != nil {
		config.PeerStatic = append([]byte(nil), peer[:]...)
	}
	return noise.NewHandshakeState(config)
}

// startHandshake writes the initiator message (-> e, es, s, ss).
func startHandshake(self *KeyPair, peer engine.PublicKey) (*pendingHandshake, []byte, error) {
	state, err := newHandshakeState(self, &peer, true)
	if err != nil {
		return nil, nil, fmt.Errorf("create initiator state: %w", err)
	}

	var idBuf [8]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, nil, err
	}
	id := binary.BigEndian.Uint64(idBuf[:])

	msg, _, _, err := state.WriteMessage(nil, idBuf[:])
	if err != nil {
		return nil, nil, fmt.Errorf("initiator write failed: %w", err)
	}
	return &pendingHandshake{id: id, state: state}, msg, nil
}

// answerHandshake reads the initiator message, checks the static key
// against the expected friend and writes the response (<- e, ee, se).
func answerHandshake(self *KeyPair, expected engine.PublicKey, msg []byte) (*secureSession, []byte, error) {
	state, err := newHandshakeState(self, nil, false)
	if err != nil {
		return nil, nil, fmt.Errorf("create responder state: %w", err)
	}
	payload, _, _, err := state.ReadMessage(nil, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("responder read failed: %w", err)
	}
	if !bytes.Equal(state.PeerStatic(), expected[:]) {
		return nil, nil, ErrPeerKeyMismatch
	}
	if len(payload) != 8 {
		return nil, nil, fmt.Errorf("handshake payload: want 8 bytes, got %d", len(payload))
	}

	reply, initToResp, respToInit, err := state.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("responder write failed: %w", err)
	}
	return &secureSession{
		id:   binary.BigEndian.Uint64(payload),
		send: respToInit,
		recv: initToResp,
	}, reply, nil
}

// finish reads the responder message and returns the established session.
func (p *pendingHandshake) finish(reply []byte) (*secureSession, error) {
	_, initToResp, respToInit, err := p.state.ReadMessage(nil, reply)
	if err != nil {
		return nil, fmt.Errorf("initiator read response failed: %w", err)
	}
	return &secureSession{id: p.id, send: initToResp, recv: respToInit}, nil
}
