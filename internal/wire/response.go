package wire

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ClientIDPayload is the payload shared by REGISTER_SUCCESS (1600),
// CONFIRMATION_RESPONSE (1604), and RETRY_CONNECTION_FAILURE (1606):
// just the 16-byte client_id.
type ClientIDPayload struct {
	ClientID string // 32-char lowercase hex
}

// Encode serializes the payload to its 16-byte wire form.
func (p *ClientIDPayload) Encode() ([]byte, error) {
	raw, err := hex.DecodeString(p.ClientID)
	if err != nil || len(raw) != ClientIDSize {
		return nil, fmt.Errorf("%w: client_id must be %d hex bytes", ErrMalformedPayload, ClientIDSize)
	}
	return raw, nil
}

// DecodeClientIDPayload parses a 16-byte client_id payload.
func DecodeClientIDPayload(buf []byte) (*ClientIDPayload, error) {
	if len(buf) != ClientIDSize {
		return nil, fmt.Errorf("%w: client id payload is %d bytes, want %d", ErrMalformedPayload, len(buf), ClientIDSize)
	}
	return &ClientIDPayload{ClientID: hex.EncodeToString(buf)}, nil
}

// WrappedKeyPayload is the payload shared by PUBLIC_KEY_RESPONSE (1602) and
// RETRY_CONNECTION_SUCCESS (1605): client_id plus the RSA-OAEP wrapped AES
// session key.
type WrappedKeyPayload struct {
	ClientID      string
	WrappedAESKey []byte
}

// Encode serializes the payload; its length is 16+len(WrappedAESKey).
func (p *WrappedKeyPayload) Encode() ([]byte, error) {
	raw, err := hex.DecodeString(p.ClientID)
	if err != nil || len(raw) != ClientIDSize {
		return nil, fmt.Errorf("%w: client_id must be %d hex bytes", ErrMalformedPayload, ClientIDSize)
	}
	buf := make([]byte, ClientIDSize+len(p.WrappedAESKey))
	copy(buf[:ClientIDSize], raw)
	copy(buf[ClientIDSize:], p.WrappedAESKey)
	return buf, nil
}

// DecodeWrappedKeyPayload parses a variable-length wrapped-key payload.
func DecodeWrappedKeyPayload(buf []byte) (*WrappedKeyPayload, error) {
	if len(buf) < ClientIDSize {
		return nil, fmt.Errorf("%w: wrapped key payload is %d bytes, want at least %d", ErrMalformedPayload, len(buf), ClientIDSize)
	}
	key := make([]byte, len(buf)-ClientIDSize)
	copy(key, buf[ClientIDSize:])
	return &WrappedKeyPayload{
		ClientID:      hex.EncodeToString(buf[:ClientIDSize]),
		WrappedAESKey: key,
	}, nil
}

// FileUploadResponsePayload is the FILE_UPLOAD_RESPONSE (1603) payload:
// client_id, the ciphertext size received, the uploaded file's name, and
// the CRC of the decrypted plaintext.
type FileUploadResponsePayload struct {
	ClientID    string
	ContentSize uint32
	FileName    string
	CRC         uint32
}

// FileUploadResponseSize is the fixed payload size for 1603:
// 16 + 4 + 255 + 4.
const FileUploadResponseSize = ClientIDSize + ContentSizeSize + FileNameSize + CRCSize

// Encode serializes the payload to its fixed 279-byte wire form.
func (p *FileUploadResponsePayload) Encode() ([]byte, error) {
	raw, err := hex.DecodeString(p.ClientID)
	if err != nil || len(raw) != ClientIDSize {
		return nil, fmt.Errorf("%w: client_id must be %d hex bytes", ErrMalformedPayload, ClientIDSize)
	}
	buf := make([]byte, FileUploadResponseSize)
	copy(buf[0:16], raw)
	binary.LittleEndian.PutUint32(buf[16:20], p.ContentSize)
	putFixedString(buf[20:275], p.FileName)
	binary.LittleEndian.PutUint32(buf[275:279], p.CRC)
	return buf, nil
}

// DecodeFileUploadResponsePayload parses a 279-byte FILE_UPLOAD_RESPONSE payload.
func DecodeFileUploadResponsePayload(buf []byte) (*FileUploadResponsePayload, error) {
	if len(buf) != FileUploadResponseSize {
		return nil, fmt.Errorf("%w: file upload response payload is %d bytes, want %d", ErrMalformedPayload, len(buf), FileUploadResponseSize)
	}
	return &FileUploadResponsePayload{
		ClientID:    hex.EncodeToString(buf[0:16]),
		ContentSize: binary.LittleEndian.Uint32(buf[16:20]),
		FileName:    fixedString(buf[20:275]),
		CRC:         binary.LittleEndian.Uint32(buf[275:279]),
	}, nil
}
