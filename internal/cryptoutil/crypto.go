// Package cryptoutil adapts the protocol's cryptographic primitives: RSA-OAEP
// key wrapping, AES-CBC decryption with PKCS#7 unpadding, a CSPRNG for AES
// session keys, and the BSD-cksum CRC variant used as a transmission check.
//
// None of this is a confidentiality or integrity guarantee on its own — the
// zero IV and unauthenticated CRC are known weaknesses reproduced here for
// wire compatibility, not a recommendation (see securexfer's design notes).
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // SHA-1/MGF1 is the OAEP default this protocol must interoperate with
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
)

// AESKeySize is the length in bytes of a session AES key.
const AESKeySize = 32

// ErrUnpad is returned when PKCS#7 padding is absent or invalid.
var ErrUnpad = errors.New("cryptoutil: invalid PKCS#7 padding")

// ErrBadPublicKey is returned when a public key blob cannot be imported as
// an RSA public key, in either PEM or DER form.
var ErrBadPublicKey = errors.New("cryptoutil: invalid RSA public key")

// RandomAESKey returns a fresh 32-byte AES key from a cryptographically
// secure RNG.
func RandomAESKey() ([]byte, error) {
	key := make([]byte, AESKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("cryptoutil: generate AES key: %w", err)
	}
	return key, nil
}

// ImportRSAPublicKey accepts either a PEM-encoded or raw DER-encoded RSA
// public key, as the client may send either inside the fixed 160-byte wire
// blob.
func ImportRSAPublicKey(blob []byte) (*rsa.PublicKey, error) {
	der := blob
	if block, _ := pem.Decode(blob); block != nil {
		der = block.Bytes
	}

	// A DER key shorter than the wire field arrives followed by NUL padding;
	// keep only the first ASN.1 element so the parsers see no trailing data.
	var raw asn1.RawValue
	if rest, err := asn1.Unmarshal(der, &raw); err == nil {
		der = der[:len(der)-len(rest)]
	}

	if pub, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaKey, ok := pub.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
		return nil, fmt.Errorf("%w: not an RSA key", ErrBadPublicKey)
	}

	if pub, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return pub, nil
	}

	return nil, ErrBadPublicKey
}

// WrapAESKey wraps aesKey under the given RSA public key using RSA-OAEP
// with SHA-1/MGF1-SHA1, matching PyCryptodome's PKCS1_OAEP defaults so a
// reference client can unwrap it.
func WrapAESKey(publicKeyBlob, aesKey []byte) ([]byte, error) {
	pub, err := ImportRSAPublicKey(publicKeyBlob)
	if err != nil {
		return nil, err
	}

	wrapped, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, aesKey, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: RSA-OAEP wrap: %w", err)
	}
	return wrapped, nil
}

// DecryptCBC decrypts ciphertext with AES-CBC under a fixed 16-byte zero IV
// and removes PKCS#7 padding. The zero IV is a known protocol weakness
// reproduced for compatibility; it is not configurable.
func DecryptCBC(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptoutil: new AES cipher: %w", err)
	}

	if len(ciphertext) == 0 || len(ciphertext)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d not a multiple of block size", ErrUnpad, len(ciphertext))
	}

	iv := make([]byte, block.BlockSize())
	plaintext := make([]byte, len(ciphertext))

	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	return unpadPKCS7(plaintext, block.BlockSize())
}

func unpadPKCS7(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrUnpad)
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("%w: implausible pad length %d", ErrUnpad, padLen)
	}

	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("%w: inconsistent padding bytes", ErrUnpad)
		}
	}

	return data[:len(data)-padLen], nil
}
