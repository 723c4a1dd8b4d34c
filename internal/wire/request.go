package wire

import (
	"encoding/binary"
	"fmt"
)

// RegisterPayload is the payload carried by REGISTER (825) and RECONNECTION
// (827); both are a single fixed-width username.
type RegisterPayload struct {
	UserName string
}

// DecodeRegisterPayload parses a 255-byte username payload.
func DecodeRegisterPayload(buf []byte) (*RegisterPayload, error) {
	if len(buf) != UserNameSize {
		return nil, fmt.Errorf("%w: register payload is %d bytes, want %d", ErrMalformedPayload, len(buf), UserNameSize)
	}
	return &RegisterPayload{UserName: fixedString(buf)}, nil
}

// Encode serializes the payload to its 255-byte wire form.
func (p *RegisterPayload) Encode() []byte {
	buf := make([]byte, UserNameSize)
	putFixedString(buf, p.UserName)
	return buf
}

// PublicKeySubmissionPayload is the payload carried by
// PUBLIC_KEY_SUBMISSION (826): a username plus the client's 160-byte
// RSA public key blob.
type PublicKeySubmissionPayload struct {
	UserName  string
	PublicKey []byte
}

// DecodePublicKeySubmissionPayload parses a 255+160-byte payload.
func DecodePublicKeySubmissionPayload(buf []byte) (*PublicKeySubmissionPayload, error) {
	const want = UserNameSize + PublicKeySize
	if len(buf) != want {
		return nil, fmt.Errorf("%w: public key submission payload is %d bytes, want %d", ErrMalformedPayload, len(buf), want)
	}
	key := make([]byte, PublicKeySize)
	copy(key, buf[UserNameSize:UserNameSize+PublicKeySize])
	return &PublicKeySubmissionPayload{
		UserName:  fixedString(buf[:UserNameSize]),
		PublicKey: key,
	}, nil
}

// Encode serializes the payload to its 415-byte wire form.
func (p *PublicKeySubmissionPayload) Encode() []byte {
	buf := make([]byte, UserNameSize+PublicKeySize)
	putFixedString(buf[:UserNameSize], p.UserName)
	copy(buf[UserNameSize:], p.PublicKey)
	return buf
}

// FileUploadPayload is the payload carried by FILE_UPLOAD (828): one chunk
// of AES-CBC ciphertext plus its position in the overall transfer.
type FileUploadPayload struct {
	ContentSize    uint32
	OrigFileSize   uint32
	PacketNumber   uint16
	TotalPackets   uint16
	FileName       string
	MessageContent []byte
}

// DecodeFileUploadPayload parses a FILE_UPLOAD payload. payloadSize is the
// declared size from the request header; the function fails with
// ErrMalformedPayload if len(buf) disagrees with it, or if it is too short
// to hold the fixed fields.
func DecodeFileUploadPayload(buf []byte, payloadSize uint32) (*FileUploadPayload, error) {
	if uint32(len(buf)) != payloadSize {
		return nil, fmt.Errorf("%w: read %d bytes, payload_size declared %d", ErrMalformedPayload, len(buf), payloadSize)
	}
	if payloadSize < FileUploadFixedFieldsSize {
		return nil, fmt.Errorf("%w: file upload payload_size %d shorter than fixed fields %d", ErrMalformedPayload, payloadSize, FileUploadFixedFieldsSize)
	}

	contentSize := binary.LittleEndian.Uint32(buf[0:4])
	origFileSize := binary.LittleEndian.Uint32(buf[4:8])
	packetNumber := binary.LittleEndian.Uint16(buf[8:10])
	totalPackets := binary.LittleEndian.Uint16(buf[10:12])
	fileName := fixedString(buf[12:267])

	content := make([]byte, len(buf)-FileUploadFixedFieldsSize)
	copy(content, buf[FileUploadFixedFieldsSize:])

	return &FileUploadPayload{
		ContentSize:    contentSize,
		OrigFileSize:   origFileSize,
		PacketNumber:   packetNumber,
		TotalPackets:   totalPackets,
		FileName:       fileName,
		MessageContent: content,
	}, nil
}

// Encode serializes the payload to its wire form, sized to
// FileUploadFixedFieldsSize + len(MessageContent).
func (p *FileUploadPayload) Encode() []byte {
	buf := make([]byte, FileUploadFixedFieldsSize+len(p.MessageContent))
	binary.LittleEndian.PutUint32(buf[0:4], p.ContentSize)
	binary.LittleEndian.PutUint32(buf[4:8], p.OrigFileSize)
	binary.LittleEndian.PutUint16(buf[8:10], p.PacketNumber)
	binary.LittleEndian.PutUint16(buf[10:12], p.TotalPackets)
	putFixedString(buf[12:267], p.FileName)
	copy(buf[FileUploadFixedFieldsSize:], p.MessageContent)
	return buf
}

// FileNamePayload is the payload shared by CRC_CONFIRMATION (900), RETRY
// (901), and CRC_FAILURE (902): a single fixed-width file name.
type FileNamePayload struct {
	FileName string
}

// DecodeFileNamePayload parses a 255-byte file name payload.
func DecodeFileNamePayload(buf []byte) (*FileNamePayload, error) {
	if len(buf) != FileNameSize {
		return nil, fmt.Errorf("%w: file name payload is %d bytes, want %d", ErrMalformedPayload, len(buf), FileNameSize)
	}
	return &FileNamePayload{FileName: fixedString(buf)}, nil
}

// Encode serializes the payload to its 255-byte wire form.
func (p *FileNamePayload) Encode() []byte {
	buf := make([]byte, FileNameSize)
	putFixedString(buf, p.FileName)
	return buf
}
