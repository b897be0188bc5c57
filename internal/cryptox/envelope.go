package cryptox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Scheme identifies how a message body was encrypted. The decryption
// pipeline routes on it and treats unknown values as legacy/unsupported.
type Scheme string

const (
	SchemeRatchetV1 Scheme = "ratchet/v1"
	SchemeSenderKey Scheme = "senderkey/v1"
)

// Envelope is the wire form of an encrypted message body. It travels inside
// the message content field as base64-encoded JSON.
type Envelope struct {
	Scheme     Scheme `json:"scheme"`
	Counter    uint64 `json:"counter,omitempty"`     // ratchet step, pairwise only
	KeyVersion int    `json:"key_version,omitempty"` // sender-key generation, groups only
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Encode serializes the envelope for transport inside a message body.
func (e Envelope) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// ParseEnvelope decodes a message body produced by Encode.
func ParseEnvelope(s string) (Envelope, error) {
	var e Envelope
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return e, fmt.Errorf("decoding envelope: %w", err)
	}
	if err := json.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("parsing envelope: %w", err)
	}
	return e, nil
}
