// Package crypto wraps the primitives the session handshake and the signed
// bid path consume: RSA-OAEP for the login exchange, AES-CTR for the
// upgraded channel, RSA-PSS for witness stamps and HMAC-SHA256 for list
// response integrity tags.
package crypto

import (
	stdcrypto "crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
)

// GenerateNonce returns n bytes of cryptographically random data. Handshake
// challenges are freshly generated per attempt and never reused.
func GenerateNonce(n int) ([]byte, error) {
	nonce := make([]byte, n)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// EncryptRSA encrypts message under the recipient's public key using
// RSA-OAEP with SHA-256.
func EncryptRSA(pub *rsa.PublicKey, message []byte) ([]byte, error) {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, message, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa encrypt: %w", err)
	}
	return ciphertext, nil
}

// DecryptRSA decrypts an RSA-OAEP SHA-256 ciphertext.
func DecryptRSA(priv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("rsa decrypt: %w", err)
	}
	return plaintext, nil
}

// Sign produces an RSA-PSS signature over the SHA-256 digest of message.
func Sign(priv *rsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPSS(rand.Reader, priv, stdcrypto.SHA256, digest[:], nil)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}

// Verify reports whether sig is a valid RSA-PSS signature of message.
func Verify(pub *rsa.PublicKey, message, sig []byte) bool {
	digest := sha256.Sum256(message)
	return rsa.VerifyPSS(pub, stdcrypto.SHA256, digest[:], sig, nil) == nil
}

// HMAC computes the HMAC-SHA256 tag of message under key.
func HMAC(message, key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(message)
	return mac.Sum(nil)
}

// HMACEqual compares two tags in constant time.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
