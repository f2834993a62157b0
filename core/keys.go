package core

import (
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	cookieHashKeyLen  = 64
	cookieBlockKeyLen = 32
)

// DeriveCookieKeys expands SESSION_KEY into independent HMAC and AES keys for
// the gorilla cookie store, so the bearer token never travels in clear text.
func DeriveCookieKeys(secret string) (hashKey, blockKey []byte, err error) {
	if secret == "" {
		return nil, nil, errors.New("empty session key")
	}
	hashKey = make([]byte, cookieHashKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("news-admin cookie hash")), hashKey); err != nil {
		return nil, nil, err
	}
	blockKey = make([]byte, cookieBlockKeyLen)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte("news-admin cookie block")), blockKey); err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}
