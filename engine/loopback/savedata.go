package loopback

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/toxclient/engine"
)

const (
	// PBKDF2Iterations is the key derivation cost for passphrase protected saves.
	PBKDF2Iterations = 100000
	// SaveVersion is the encrypted save format version.
	SaveVersion = 1

	saltSize = 32
)

var encryptedMagic = []byte("TXCE")

var (
	// ErrPassphraseRequired is returned when loading an encrypted save without a passphrase.
	ErrPassphraseRequired = errors.New("save data is encrypted")
	// ErrSaveCorrupt is returned when a save cannot be decrypted or parsed.
	ErrSaveCorrupt = errors.New("save data corrupt or wrong passphrase")
)

type savedState struct {
	SecretKey     [32]byte          `json:"secret_key"`
	Nospam        engine.Nospam     `json:"nospam"`
	Name          string            `json:"name"`
	StatusMessage string            `json:"status_message"`
	UserStatus    engine.UserStatus `json:"user_status"`
	NextFriendID  uint32            `json:"next_friend_id"`
	Friends       []savedFriend     `json:"friends"`
	Timestamp     int64             `json:"timestamp"`
}

type savedFriend struct {
	FriendID         uint32            `json:"friend_id"`
	PublicKey        engine.PublicKey  `json:"public_key"`
	Name             string            `json:"name"`
	StatusMessage    string            `json:"status_message"`
	UserStatus       engine.UserStatus `json:"user_status"`
	RequestMessage   string            `json:"request_message,omitempty"`
	RequestNospam    engine.Nospam     `json:"request_nospam"`
	RequestDelivered bool              `json:"request_delivered"`
}

// Save writes the identity, profile and friend list to path. The file is
// replaced atomically.
func (t *Tox) Save(path string) error {
	if t.killed {
		return engine.ErrKilled
	}
	state := savedState{
		SecretKey:     t.keyPair.Private,
		Nospam:        t.nospam,
		Name:          t.name,
		StatusMessage: t.statusMessage,
		UserStatus:    t.userStatus,
		NextFriendID:  t.nextFriendID,
		Timestamp:     t.timeProvider.Now().Unix(),
	}
	for _, f := range t.sortedFriends() {
		state.Friends = append(state.Friends, savedFriend{
			FriendID:         f.id,
			PublicKey:        f.publicKey,
			Name:             f.name,
			StatusMessage:    f.statusMessage,
			UserStatus:       f.userStatus,
			RequestMessage:   f.requestMessage,
			RequestNospam:    f.requestNospam,
			RequestDelivered: f.requestDelivered,
		})
	}

	data, err := encodeJSON(&state)
	if err != nil {
		return fmt.Errorf("encode save data: %w", err)
	}
	if t.options.SavePassphrase != "" {
		data, err = encryptSave(data, []byte(t.options.SavePassphrase))
		if err != nil {
			return err
		}
	}

	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function":     "Save",
		"path":         path,
		"friend_count": len(state.Friends),
		"encrypted":    t.options.SavePassphrase != "",
	}).Info("Profile saved")
	return nil
}

// Load replaces the identity and friend list with the contents of path.
// Conferences are not persisted and are left before the identity changes.
func (t *Tox) Load(path string) error {
	if t.killed {
		return engine.ErrKilled
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read save data: %w", err)
	}
	if bytes.HasPrefix(data, encryptedMagic) {
		if t.options.SavePassphrase == "" {
			return ErrPassphraseRequired
		}
		data, err = decryptSave(data, []byte(t.options.SavePassphrase))
		if err != nil {
			return err
		}
	}

	var state savedState
	if err := decodeJSON(data, &state); err != nil {
		return fmt.Errorf("%w: %v", ErrSaveCorrupt, err)
	}
	keyPair, err := FromSecretKey(state.SecretKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSaveCorrupt, err)
	}

	for id := range t.groups {
		_ = t.DeleteGroupChat(id)
	}
	if err := t.network.rekey(t.keyPair.Public, keyPair.Public, state.Nospam); err != nil {
		return err
	}

	t.keyPair = keyPair
	t.nospam = state.Nospam
	t.name = state.Name
	t.statusMessage = state.StatusMessage
	t.userStatus = state.UserStatus
	t.network.setName(keyPair.Public, state.Name)

	t.friends = make(map[uint32]*friendEntry, len(state.Friends))
	t.nextFriendID = state.NextFriendID
	for _, sf := range state.Friends {
		t.friends[sf.FriendID] = &friendEntry{
			id:               sf.FriendID,
			publicKey:        sf.PublicKey,
			name:             sf.Name,
			statusMessage:    sf.StatusMessage,
			userStatus:       sf.UserStatus,
			requestMessage:   sf.RequestMessage,
			requestNospam:    sf.RequestNospam,
			requestDelivered: sf.RequestDelivered,
			sending:          make(map[uint32]*fileSlot),
			receiving:        make(map[uint32]*fileSlot),
		}
		if sf.FriendID >= t.nextFriendID {
			t.nextFriendID = sf.FriendID + 1
		}
		t.network.addFriendEdge(keyPair.Public, sf.PublicKey)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "Load",
		"path":         path,
		"public_key":   t.SelfPublicKey().Short(),
		"friend_count": len(t.friends),
		"saved_at":     time.Unix(state.Timestamp, 0).UTC().Format(time.RFC3339),
	}).Info("Profile loaded")
	return nil
}

func deriveSaveKey(passphrase, salt []byte) [32]byte {
	var key [32]byte
	copy(key[:], pbkdf2.Key(passphrase, salt, PBKDF2Iterations, 32, sha256.New))
	return key
}

// encryptSave produces magic || version:2 || salt:32 || nonce:24 || secretbox.
func encryptSave(plaintext, passphrase []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	key := deriveSaveKey(passphrase, salt)

	out := make([]byte, 0, len(encryptedMagic)+2+saltSize+len(nonce)+len(plaintext)+secretbox.Overhead)
	out = append(out, encryptedMagic...)
	out = binary.BigEndian.AppendUint16(out, SaveVersion)
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	return secretbox.Seal(out, plaintext, &nonce, &key), nil
}

func decryptSave(data, passphrase []byte) ([]byte, error) {
	header := len(encryptedMagic) + 2 + saltSize + 24
	if len(data) < header+secretbox.Overhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrSaveCorrupt, len(data))
	}
	rest := data[len(encryptedMagic):]
	if v := binary.BigEndian.Uint16(rest[:2]); v != SaveVersion {
		return nil, fmt.Errorf("unsupported save version %d", v)
	}
	salt := rest[2 : 2+saltSize]
	var nonce [24]byte
	copy(nonce[:], rest[2+saltSize:2+saltSize+24])
	key := deriveSaveKey(passphrase, salt)

	plaintext, ok := secretbox.Open(nil, data[header:], &nonce, &key)
	if !ok {
		return nil, ErrSaveCorrupt
	}
	return plaintext, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create save directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename save file: %w", err)
	}
	return nil
}
