package util

import (
	"binpastes/pkg/domain"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const (
	idAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyz"
	maxIDAttempts = 5
)

// GenID returns a fresh paste id, retrying while exists reports a collision.
func GenID(exists func(string) (bool, error)) (string, error) {
	for retry := 0; retry < maxIDAttempts; retry++ {
		id, err := gonanoid.Generate(idAlphabet, domain.IDLength)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		exist, err := exists(id)
		if err != nil {
			return "", err
		}
		if !exist {
			return id, nil
		}
	}
	return "", errors.Wrapf(domain.ErrIDGenerationFailed, "collision after %d retries", maxIDAttempts)
}

func ValidID(id string) bool {
	if len(id) != domain.IDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'z') {
			return false
		}
	}
	return true
}
