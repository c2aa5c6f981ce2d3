package vetkd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// TransportPublicKeyLen is the expected length of a transport public key.
const TransportPublicKeyLen = 32

const (
	encryptedKeyLen = 96
	publicKeyLen    = 48
)

// DevService derives key material deterministically from a master secret.
// The same (owner context, resource context, transport key) triple always
// yields the same encrypted key, and public keys are deterministic and
// distinct per resource context.
type DevService struct {
	masterSecret []byte
}

// NewDevService creates a new instance with the provided master secret.
// The master secret must be at least 32 bytes long.
func NewDevService(masterSecret []byte) (*DevService, error) {
	if len(masterSecret) < 32 {
		return nil, errors.New("master secret must be at least 32 bytes")
	}
	secret := make([]byte, len(masterSecret))
	copy(secret, masterSecret)
	return &DevService{masterSecret: secret}, nil
}

// DeriveEncryptedKey implements interfaces.VetKD.
func (s *DevService) DeriveEncryptedKey(_ context.Context, ownerContext, resourceContext, transportPublicKey []byte) ([]byte, error) {
	if len(transportPublicKey) != TransportPublicKeyLen {
		return nil, fmt.Errorf("transport public key must be %d bytes, got %d", TransportPublicKeyLen, len(transportPublicKey))
	}

	info := lengthPrefixed(ownerContext, resourceContext, transportPublicKey)
	out := make([]byte, encryptedKeyLen)
	r := hkdf.New(sha3.New256, s.masterSecret, []byte("vetkd-encrypted-key"), info)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	return out, nil
}

// PublicKey implements interfaces.VetKD.
func (s *DevService) PublicKey(_ context.Context, resourceContext []byte) []byte {
	out := make([]byte, publicKeyLen)
	r := hkdf.New(sha3.New256, s.masterSecret, []byte("vetkd-public-key"), lengthPrefixed(resourceContext))
	if _, err := io.ReadFull(r, out); err != nil {
		// hkdf cannot fail for this output size
		panic(err)
	}
	return out
}

// lengthPrefixed concatenates the inputs with 4-byte length prefixes so
// distinct input splits never produce the same derivation info.
func lengthPrefixed(parts ...[]byte) []byte {
	var buf []byte
	for _, p := range parts {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(p)))
		buf = append(buf, l[:]...)
		buf = append(buf, p...)
	}
	return buf
}
