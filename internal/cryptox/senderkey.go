package cryptox

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chatline/internal/common"
)

// MaxPreviousSenderKeys bounds how many rotated-out group keys are retained
// so that messages sealed under recent generations stay decryptable.
const MaxPreviousSenderKeys = 3

// SenderKey is the rotating shared key for a group conversation. Unlike the
// pairwise ratchet it is stateless with respect to message order: any member
// holding the right generation can decrypt in any order, any time.
type SenderKey struct {
	mu      sync.Mutex
	version int
	keys    map[int][]byte
}

// NewSenderKey wraps an agreed 32-byte group key at the given generation.
func NewSenderKey(version int, key []byte) (*SenderKey, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sender key must be %d bytes", KeySize)
	}
	return &SenderKey{
		version: version,
		keys:    map[int][]byte{version: append([]byte(nil), key...)},
	}, nil
}

// Rotate replaces the current key with a freshly generated one, bumping the
// generation. Old generations beyond MaxPreviousSenderKeys are dropped and
// wiped.
func (s *SenderKey) Rotate() (version int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return 0, err
	}
	s.version++
	s.keys[s.version] = key

	for v, k := range s.keys {
		if v <= s.version-MaxPreviousSenderKeys-1 {
			wipe(k)
			delete(s.keys, v)
		}
	}
	return s.version, nil
}

// AddVersion installs a key for a generation received from another member.
func (s *SenderKey) AddVersion(version int, key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("sender key must be %d bytes", KeySize)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[version] = append([]byte(nil), key...)
	if version > s.version {
		s.version = version
	}
	return nil
}

// Encrypt seals plaintext under the current generation.
func (s *SenderKey) Encrypt(plaintext []byte) (Envelope, error) {
	s.mu.Lock()
	key := s.keys[s.version]
	version := s.version
	s.mu.Unlock()

	ciphertext, nonce, err := Seal(plaintext, key)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Scheme:     SchemeSenderKey,
		KeyVersion: version,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// Decrypt opens an envelope sealed under any retained generation.
func (s *SenderKey) Decrypt(env Envelope) ([]byte, error) {
	if env.Scheme != SchemeSenderKey {
		return nil, common.ErrUnsupportedCiphertext
	}

	s.mu.Lock()
	key, ok := s.keys[env.KeyVersion]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no key for generation %d", common.ErrDecryptFailed, env.KeyVersion)
	}

	plaintext, err := Open(env.Ciphertext, env.Nonce, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptFailed, err)
	}
	return plaintext, nil
}
