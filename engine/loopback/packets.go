package loopback

import (
	"crypto/rand"
	"encoding/json"
	"errors"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/limits"
)

type envelopeKind uint8

const (
	envRequest envelopeKind = iota
	envHandshakeInit
	envHandshakeReply
	envHandshakeReset
	envFriend
	envGroup
)

// envelope is what sits in a peer's inbox.
type envelope struct {
	kind    envelopeKind
	from    engine.PublicKey
	session uint64
	nonce   [24]byte
	group   engine.GroupKey
	body    []byte
}

// PacketKind identifies the payload carried inside a friend channel.
type PacketKind uint8

const (
	PacketProfile PacketKind = iota + 1
	PacketMessage
	PacketGroupInvite
	PacketFileRequest
	PacketFileControl
	PacketFileData
	PacketCallSignal
	PacketAudio
	PacketVideo
)

type callSignal uint8

const (
	signalInvite callSignal = iota + 1
	signalRinging
	signalStarting
	signalCancel
	signalReject
	signalEnd
	signalMedia
)

// packet is the plaintext of a friend channel envelope.
type packet struct {
	Kind     PacketKind            `json:"k"`
	Text     string                `json:"t,omitempty"`
	Extra    string                `json:"x,omitempty"`
	Data     []byte                `json:"d,omitempty"`
	Status   engine.UserStatus     `json:"s,omitempty"`
	File     uint32                `json:"f,omitempty"`
	Size     uint64                `json:"z,omitempty"`
	Dir      engine.FileDirection  `json:"r,omitempty"`
	Control  engine.FileControl    `json:"c,omitempty"`
	Call     uint32                `json:"a,omitempty"`
	Ref      uint32                `json:"e,omitempty"`
	Signal   callSignal            `json:"g,omitempty"`
	Settings *engine.CodecSettings `json:"cs,omitempty"`
}

func encodeJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func encodePacket(p *packet) ([]byte, error) {
	return json.Marshal(p)
}

func decodePacket(data []byte) (*packet, error) {
	var p packet
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

type groupPayloadKind uint8

const (
	groupPayloadMessage groupPayloadKind = iota + 1
	groupPayloadChange
)

// groupPayload is the plaintext of a group envelope.
type groupPayload struct {
	Kind   groupPayloadKind   `json:"k"`
	Peer   int                `json:"p"`
	Change engine.GroupChange `json:"c,omitempty"`
	Text   []byte             `json:"t,omitempty"`
}

// sealGroup encrypts a group payload with the conference key.
func sealGroup(key engine.GroupKey, p *groupPayload) ([24]byte, []byte, error) {
	var nonce [24]byte
	data, err := json.Marshal(p)
	if err != nil {
		return nonce, nil, err
	}
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, nil, err
	}
	k := [32]byte(key)
	out := make([]byte, 0, len(data)+limits.EncryptionOverhead)
	return nonce, secretbox.Seal(out, data, &nonce, &k), nil
}

func openGroup(key engine.GroupKey, nonce [24]byte, body []byte) (*groupPayload, error) {
	if len(body) < limits.EncryptionOverhead {
		return nil, errors.New("group payload too short")
	}
	k := [32]byte(key)
	data, ok := secretbox.Open(nil, body, &nonce, &k)
	if !ok {
		return nil, errors.New("group payload decryption failed")
	}
	var p groupPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
