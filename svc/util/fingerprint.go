package util

import (
	"encoding/hex"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

const minFingerprintKeyLen = 16

// Fingerprinter derives the owner fingerprint stored with each paste. The
// same address maps to the same value for as long as the key is unchanged.
type Fingerprinter struct {
	key []byte
}

func NewFingerprinter(key []byte) (*Fingerprinter, error) {
	if len(key) < minFingerprintKeyLen {
		return nil, errors.Errorf("fingerprint key must be at least %d bytes", minFingerprintKeyLen)
	}
	if len(key) > blake2b.Size {
		return nil, errors.Errorf("fingerprint key must be at most %d bytes", blake2b.Size)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Fingerprinter{key: k}, nil
}

func (f *Fingerprinter) Fingerprint(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if ip := net.ParseIP(addr); ip != nil {
		addr = ip.String()
	}
	h, err := blake2b.New256(f.key)
	if err != nil {
		panic(err)
	}
	h.Write([]byte(addr))
	return hex.EncodeToString(h.Sum(nil))
}
