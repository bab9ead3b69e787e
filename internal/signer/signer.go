// Package signer produces tamper-evident blobs that survive untrusted round
// trips: deeplinks, project payloads, anything handed to a browser or a chat.
package signer

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed        = errors.New("malformed signed blob")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrSignatureExpired = errors.New("signature expired")
)

const (
	blobSeparator    = "|"
	compactSeparator = "_"
	compactSigBytes  = 16
)

// Signer signs with the newest secret and verifies against every configured
// secret, which lets operators rotate without breaking links in flight.
type Signer struct {
	secrets [][]byte
	now     func() time.Time
}

func New(secret string, previous ...string) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("signer secret is empty")
	}
	secrets := [][]byte{[]byte(secret)}
	for _, p := range previous {
		if p = strings.TrimSpace(p); p != "" {
			secrets = append(secrets, []byte(p))
		}
	}
	return &Signer{secrets: secrets, now: time.Now}, nil
}

// WithClock returns a copy that reads time from now; used by tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	return &Signer{secrets: s.secrets, now: now}
}

func mac(secret, data []byte) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write(data)
	return h.Sum(nil)
}

// Sign returns "base64url(data)|hex(hmac)".
func (s *Signer) Sign(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data) + blobSeparator + hex.EncodeToString(mac(s.secrets[0], data))
}

func (s *Signer) Verify(blob string) ([]byte, error) {
	idx := strings.LastIndex(blob, blobSeparator)
	if idx < 0 || idx == len(blob)-1 {
		return nil, ErrMalformed
	}
	data, err := base64.RawURLEncoding.DecodeString(blob[:idx])
	if err != nil {
		return nil, ErrMalformed
	}
	sig, err := hex.DecodeString(blob[idx+1:])
	if err != nil || len(sig) != sha256.Size {
		return nil, ErrMalformed
	}
	for _, secret := range s.secrets {
		if hmac.Equal(sig, mac(secret, data)) {
			return data, nil
		}
	}
	return nil, ErrInvalidSignature
}

func (s *Signer) SignWithExpiry(data []byte, ttl time.Duration) string {
	exp := s.now().Add(ttl).Unix()
	payload := make([]byte, 0, len(data)+21)
	payload = append(payload, data...)
	payload = append(payload, blobSeparator...)
	payload = strconv.AppendInt(payload, exp, 10)
	return s.Sign(payload)
}

func (s *Signer) VerifyWithExpiry(blob string) ([]byte, error) {
	payload, err := s.Verify(blob)
	if err != nil {
		return nil, err
	}
	idx := bytes.LastIndex(payload, []byte(blobSeparator))
	if idx < 0 {
		return nil, ErrMalformed
	}
	exp, err := strconv.ParseInt(string(payload[idx+1:]), 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	if s.now().Unix() >= exp {
		return nil, ErrSignatureExpired
	}
	return payload[:idx], nil
}

// SignID is the compact form used in Telegram start parameters, which only
// allow [A-Za-z0-9_-] and at most 64 characters: "<id>_<b64url(hmac[:16])>".
func (s *Signer) SignID(id int64) string {
	idStr := strconv.FormatInt(id, 10)
	sig := mac(s.secrets[0], []byte("id:"+idStr))[:compactSigBytes]
	return idStr + compactSeparator + base64.RawURLEncoding.EncodeToString(sig)
}

func (s *Signer) VerifyID(blob string) (int64, error) {
	idx := strings.Index(blob, compactSeparator)
	if idx <= 0 || idx == len(blob)-1 {
		return 0, ErrMalformed
	}
	idStr := blob[:idx]
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMalformed
	}
	sig, err := base64.RawURLEncoding.DecodeString(blob[idx+1:])
	if err != nil || len(sig) != compactSigBytes {
		return 0, ErrMalformed
	}
	for _, secret := range s.secrets {
		if hmac.Equal(sig, mac(secret, []byte("id:"+idStr))[:compactSigBytes]) {
			return id, nil
		}
	}
	return 0, ErrInvalidSignature
}
