package cryptox

import (
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/chatline/internal/common"
	"golang.org/x/crypto/hkdf"
)

// Ratchet is one direction of a pairwise message chain. Each step derives a
// fresh message key and replaces the chain key, so a key compromise never
// exposes earlier messages and a message can only be decrypted at exactly
// its position in the chain.
//
// Both peers hold mirrored chains: A's send chain equals B's receive chain.
// Decrypt refuses any counter other than the next expected one — skipping or
// reordering would silently desynchronize the chain state, so it is rejected
// up front with common.ErrRatchetOutOfOrder.
type Ratchet struct {
	mu      sync.Mutex
	sendKey []byte
	recvKey []byte
	sendCtr uint64
	recvCtr uint64
}

// NewRatchet builds a ratchet from two agreed 32-byte chain roots.
func NewRatchet(sendRoot, recvRoot []byte) (*Ratchet, error) {
	if len(sendRoot) != KeySize || len(recvRoot) != KeySize {
		return nil, fmt.Errorf("chain roots must be %d bytes", KeySize)
	}
	r := &Ratchet{
		sendKey: append([]byte(nil), sendRoot...),
		recvKey: append([]byte(nil), recvRoot...),
	}
	return r, nil
}

// NewRatchetPair derives two mirrored ratchets from a shared root, for tests
// and local simulations of both ends of a conversation.
func NewRatchetPair(root []byte) (a, b *Ratchet, err error) {
	ka, kb, err := splitRoot(root)
	if err != nil {
		return nil, nil, err
	}
	a, err = NewRatchet(ka, kb)
	if err != nil {
		return nil, nil, err
	}
	b, err = NewRatchet(kb, ka)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func splitRoot(root []byte) ([]byte, []byte, error) {
	out := make([]byte, 2*KeySize)
	kdf := hkdf.New(sha256.New, root, nil, []byte("chatline pairwise roots"))
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, nil, err
	}
	return out[:KeySize], out[KeySize:], nil
}

// step derives the next chain key and the message key for the current
// position. It leaves chain intact; the caller wipes the old key only once
// the step is committed, so a failed operation never strands the chain on
// zeroed state.
func step(chain []byte) (next, msgKey []byte, err error) {
	out := make([]byte, 2*KeySize)
	kdf := hkdf.New(sha256.New, chain, nil, []byte("chatline chain step"))
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, nil, err
	}
	return out[:KeySize], out[KeySize:], nil
}

// Encrypt seals plaintext at the current send position and advances the
// send chain.
func (r *Ratchet) Encrypt(plaintext []byte) (Envelope, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, msgKey, err := step(r.sendKey)
	if err != nil {
		return Envelope{}, err
	}
	ciphertext, nonce, err := Seal(plaintext, msgKey)
	wipe(msgKey)
	if err != nil {
		wipe(next)
		return Envelope{}, err
	}

	env := Envelope{
		Scheme:     SchemeRatchetV1,
		Counter:    r.sendCtr,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	wipe(r.sendKey)
	r.sendKey = next
	r.sendCtr++
	return env, nil
}

// Decrypt opens an envelope at the next expected receive position and
// advances the receive chain. Envelopes presented out of order are rejected
// without touching chain state.
func (r *Ratchet) Decrypt(env Envelope) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if env.Scheme != SchemeRatchetV1 {
		return nil, common.ErrUnsupportedCiphertext
	}
	if env.Counter != r.recvCtr {
		return nil, fmt.Errorf("%w: got counter %d, expected %d",
			common.ErrRatchetOutOfOrder, env.Counter, r.recvCtr)
	}

	next, msgKey, err := step(r.recvKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := Open(env.Ciphertext, env.Nonce, msgKey)
	wipe(msgKey)
	if err != nil {
		// A bad ciphertext at the right position still consumes it,
		// matching the sender's view of the chain.
		wipe(r.recvKey)
		r.recvKey = next
		r.recvCtr++
		return nil, fmt.Errorf("%w: %v", common.ErrDecryptFailed, err)
	}

	wipe(r.recvKey)
	r.recvKey = next
	r.recvCtr++
	return plaintext, nil
}
