// Package secret keeps credential material (passwords, auth tokens, TLS
// key passphrases) out of plain Go strings, so a stray log line or panic
// dump never leaks one. It is a trimmed version of the teacher's
// config.Secret: the same locked-memory enclave, without the pluggable
// external secret-store backends this spec has no use for.
package secret

import (
	"fmt"

	"github.com/awnumar/memguard"
)

// Secret wraps a piece of sensitive configuration text.
type Secret struct {
	enclave *memguard.Enclave
}

// New locks plaintext in an enclave and returns nil for an empty string.
// The caller's copy of plaintext is not cleared; callers should discard
// their reference immediately after calling New.
func New(plaintext string) *Secret {
	if plaintext == "" {
		return nil
	}
	return &Secret{enclave: memguard.NewEnclave([]byte(plaintext))}
}

// Get returns the plaintext. Callers should use the result immediately
// (e.g. to build a wire command) and let it go out of scope rather than
// storing it.
func (s *Secret) Get() (string, error) {
	if s == nil {
		return "", nil
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("opening secret enclave: %w", err)
	}
	defer buf.Destroy()
	return buf.String(), nil
}

// Empty reports whether the secret is unset.
func (s *Secret) Empty() bool {
	return s == nil
}

// UnmarshalConfigValue wraps raw in a new Secret via New; the receiver is
// not used. The config loader does not call it: Section.Secret calls New
// directly.
func (s *Secret) UnmarshalConfigValue(raw string) (*Secret, error) {
	return New(raw), nil
}
