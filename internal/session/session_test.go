package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" //nolint:gosec // matches the OAEP hash this protocol wraps session keys with
	"crypto/x509"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrypt/securexfer/internal/cryptoutil"
	"github.com/relaycrypt/securexfer/internal/directory"
	"github.com/relaycrypt/securexfer/internal/upload"
	"github.com/relaycrypt/securexfer/internal/wire"
)

var zeroClientID = strings.Repeat("0", 32)

func newTestSession(t *testing.T) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	s := New(server, Config{
		Directory: directory.New(),
		Assembler: upload.New(t.TempDir()),
	})
	go s.Serve()
	t.Cleanup(func() { _ = client.Close() })
	return s, client
}

func sendRequest(t *testing.T, conn net.Conn, clientID string, code wire.RequestCode, payload []byte) {
	t.Helper()
	h := &wire.RequestHeader{ClientID: clientID, Version: 1, Code: code, PayloadSize: uint32(len(payload))}
	buf, err := h.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Write(buf)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func readResponse(t *testing.T, conn net.Conn) (*wire.ResponseHeader, []byte) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	headerBuf := make([]byte, wire.ResponseHeaderSize)
	_, err := readFullT(conn, headerBuf)
	require.NoError(t, err)

	header, err := wire.DecodeResponseHeader(headerBuf)
	require.NoError(t, err)

	payload := make([]byte, header.PayloadSize)
	if header.PayloadSize > 0 {
		_, err = readFullT(conn, payload)
		require.NoError(t, err)
	}
	return header, payload
}

func readFullT(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestSession_Register_Success(t *testing.T) {
	_, client := newTestSession(t)

	sendRequest(t, client, zeroClientID, wire.Register, (&wire.RegisterPayload{UserName: "alice"}).Encode())
	header, payload := readResponse(t, client)

	assert.Equal(t, wire.RegisterSuccess, header.Code)
	idPayload, err := wire.DecodeClientIDPayload(payload)
	require.NoError(t, err)
	assert.Len(t, idPayload.ClientID, 32)
}

func TestSession_Register_DuplicateFails(t *testing.T) {
	_, client := newTestSession(t)

	sendRequest(t, client, zeroClientID, wire.Register, (&wire.RegisterPayload{UserName: "alice"}).Encode())
	readResponse(t, client)

	sendRequest(t, client, zeroClientID, wire.Register, (&wire.RegisterPayload{UserName: "alice"}).Encode())
	header, payload := readResponse(t, client)

	assert.Equal(t, wire.RegisterFailure, header.Code)
	assert.Empty(t, payload)
}

func TestSession_PublicKeySubmission_UnknownUserSendsGeneralFailure(t *testing.T) {
	_, client := newTestSession(t)

	pk := make([]byte, wire.PublicKeySize)
	sendRequest(t, client, zeroClientID, wire.PublicKeySubmission,
		(&wire.PublicKeySubmissionPayload{UserName: "ghost", PublicKey: pk}).Encode())
	header, _ := readResponse(t, client)

	assert.Equal(t, wire.GeneralFailure, header.Code)
}

func TestSession_PublicKeySubmission_Success(t *testing.T) {
	_, client := newTestSession(t)

	sendRequest(t, client, zeroClientID, wire.Register, (&wire.RegisterPayload{UserName: "alice"}).Encode())
	_, regPayload := readResponse(t, client)
	idPayload, err := wire.DecodeClientIDPayload(regPayload)
	require.NoError(t, err)

	pub := testRSAPublicKeyDER(t)
	sendRequest(t, client, idPayload.ClientID, wire.PublicKeySubmission,
		(&wire.PublicKeySubmissionPayload{UserName: "alice", PublicKey: pub}).Encode())
	header, payload := readResponse(t, client)

	require.Equal(t, wire.PublicKeyResponse, header.Code)
	wrapped, err := wire.DecodeWrappedKeyPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, idPayload.ClientID, wrapped.ClientID)
	assert.NotEmpty(t, wrapped.WrappedAESKey)
}

func TestSession_Reconnection_UnknownUserFails(t *testing.T) {
	_, client := newTestSession(t)

	sendRequest(t, client, zeroClientID, wire.Reconnection, (&wire.RegisterPayload{UserName: "ghost"}).Encode())
	header, payload := readResponse(t, client)

	assert.Equal(t, wire.RetryConnectionFailure, header.Code)
	idPayload, err := wire.DecodeClientIDPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, zeroClientID, idPayload.ClientID)
}

func TestSession_Reconnection_RotatesKey(t *testing.T) {
	_, client := newTestSession(t)

	sendRequest(t, client, zeroClientID, wire.Register, (&wire.RegisterPayload{UserName: "alice"}).Encode())
	_, regPayload := readResponse(t, client)
	idPayload, err := wire.DecodeClientIDPayload(regPayload)
	require.NoError(t, err)

	priv, pub := testRSAKeyPair(t)
	sendRequest(t, client, idPayload.ClientID, wire.PublicKeySubmission,
		(&wire.PublicKeySubmissionPayload{UserName: "alice", PublicKey: pub}).Encode())
	_, firstWrapBody := readResponse(t, client)
	firstWrapped, err := wire.DecodeWrappedKeyPayload(firstWrapBody)
	require.NoError(t, err)

	sendRequest(t, client, zeroClientID, wire.Reconnection, (&wire.RegisterPayload{UserName: "alice"}).Encode())
	header, secondWrapBody := readResponse(t, client)
	require.Equal(t, wire.RetryConnectionSuccess, header.Code)
	secondWrapped, err := wire.DecodeWrappedKeyPayload(secondWrapBody)
	require.NoError(t, err)

	assert.NotEqual(t,
		unwrapAESKey(t, priv, firstWrapped.WrappedAESKey),
		unwrapAESKey(t, priv, secondWrapped.WrappedAESKey))
}

func TestSession_MalformedHeader_ClosesWithoutResponse(t *testing.T) {
	_, client := newTestSession(t)

	garbage := make([]byte, wire.RequestHeaderSize)
	garbage[17] = 0xFF
	garbage[18] = 0xFF
	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err := client.Write(garbage)
	require.NoError(t, err)

	buf := make([]byte, 1)
	_, err = client.Read(buf)
	assert.Error(t, err)
}

func TestSession_PayloadExceedsMaxSendsGeneralFailureThenCloses(t *testing.T) {
	server, client := net.Pipe()
	s := New(server, Config{
		Directory:      directory.New(),
		Assembler:      upload.New(t.TempDir()),
		MaxPayloadSize: 8,
	})
	go s.Serve()
	defer client.Close()

	h := &wire.RequestHeader{ClientID: zeroClientID, Version: 1, Code: wire.Register, PayloadSize: 255}
	buf, err := h.Encode()
	require.NoError(t, err)
	require.NoError(t, client.SetDeadline(time.Now().Add(2*time.Second)))
	_, err = client.Write(buf)
	require.NoError(t, err)

	header, _ := readResponse(t, client)
	assert.Equal(t, wire.GeneralFailure, header.Code)
}

func TestSession_Retry_NoResponse(t *testing.T) {
	_, client := newTestSession(t)

	sendRequest(t, client, zeroClientID, wire.Retry, (&wire.FileNamePayload{FileName: "file.bin"}).Encode())
	sendRequest(t, client, zeroClientID, wire.Register, (&wire.RegisterPayload{UserName: "alice"}).Encode())

	header, _ := readResponse(t, client)
	assert.Equal(t, wire.RegisterSuccess, header.Code)
}

func TestSession_CRCAcknowledge_EchoesClientID(t *testing.T) {
	_, client := newTestSession(t)

	sendRequest(t, client, zeroClientID, wire.Register, (&wire.RegisterPayload{UserName: "alice"}).Encode())
	_, regPayload := readResponse(t, client)
	idPayload, err := wire.DecodeClientIDPayload(regPayload)
	require.NoError(t, err)

	sendRequest(t, client, idPayload.ClientID, wire.CRCConfirmation, (&wire.FileNamePayload{FileName: "file.bin"}).Encode())
	header, payload := readResponse(t, client)

	assert.Equal(t, wire.ConfirmationResponse, header.Code)
	echoed, err := wire.DecodeClientIDPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, idPayload.ClientID, echoed.ClientID)
}

func TestSession_FileUpload_UnknownClientSendsGeneralFailure(t *testing.T) {
	_, client := newTestSession(t)

	payload := (&wire.FileUploadPayload{
		ContentSize:    0,
		OrigFileSize:   0,
		PacketNumber:   1,
		TotalPackets:   1,
		FileName:       "file.bin",
		MessageContent: nil,
	}).Encode()
	sendRequest(t, client, zeroClientID, wire.FileUpload, payload)
	header, _ := readResponse(t, client)

	assert.Equal(t, wire.GeneralFailure, header.Code)
}

// testRSAPublicKeyDER returns a 1024-bit RSA public key encoded as PKCS#1
// DER (140 bytes), which fits in the wire's 160-byte public key field, as a
// client would submit it in a PUBLIC_KEY_SUBMISSION payload.
func testRSAPublicKeyDER(t *testing.T) []byte {
	t.Helper()
	_, der := testRSAKeyPair(t)
	return der
}

// testRSAKeyPair returns a 1024-bit RSA private key alongside its PKCS#1
// DER-encoded public key, which fits in the wire's 160-byte public key field
// (the PKIX encoding of a 1024-bit key is 162 bytes and would not).
func testRSAKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	der := x509.MarshalPKCS1PublicKey(&priv.PublicKey)
	require.LessOrEqual(t, len(der), wire.PublicKeySize)
	return priv, der
}

// encryptCBCForUpload mirrors cryptoutil.DecryptCBC's inverse: AES-CBC under
// a fixed zero IV with PKCS#7 padding, used here to build FILE_UPLOAD
// ciphertext fixtures the way a client would encrypt them.
func encryptCBCForUpload(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	blockSize := block.BlockSize()
	padLen := blockSize - len(plaintext)%blockSize
	padded := make([]byte, len(plaintext)+padLen)
	copy(padded, plaintext)
	for i := len(plaintext); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}

	iv := make([]byte, blockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext
}

// unwrapAESKey reverses cryptoutil.WrapAESKey: RSA-OAEP/SHA-1 decrypt under
// the client's own private key, recovering the AES session key the server
// minted and wrapped in its PUBLIC_KEY_RESPONSE.
func unwrapAESKey(t *testing.T, priv *rsa.PrivateKey, wrapped []byte) []byte {
	t.Helper()
	key, err := rsa.DecryptOAEP(sha1.New(), rand.Reader, priv, wrapped, nil) //nolint:gosec // matches the protocol's OAEP hash
	require.NoError(t, err)
	return key
}

// registerAndSubmitKey drives REGISTER then PUBLIC_KEY_SUBMISSION for name
// over conn, returning the assigned client_id and the recovered AES session
// key, ready for a FILE_UPLOAD test to encrypt chunks under.
func registerAndSubmitKey(t *testing.T, conn net.Conn, name string) (clientID string, aesKey []byte) {
	t.Helper()
	sendRequest(t, conn, zeroClientID, wire.Register, (&wire.RegisterPayload{UserName: name}).Encode())
	_, regPayload := readResponse(t, conn)
	idPayload, err := wire.DecodeClientIDPayload(regPayload)
	require.NoError(t, err)

	priv, pub := testRSAKeyPair(t)
	sendRequest(t, conn, idPayload.ClientID, wire.PublicKeySubmission,
		(&wire.PublicKeySubmissionPayload{UserName: name, PublicKey: pub}).Encode())
	header, wrapBody := readResponse(t, conn)
	require.Equal(t, wire.PublicKeyResponse, header.Code)
	wrapped, err := wire.DecodeWrappedKeyPayload(wrapBody)
	require.NoError(t, err)

	return idPayload.ClientID, unwrapAESKey(t, priv, wrapped.WrappedAESKey)
}

func TestSession_FileUpload_SinglePacketSuccess(t *testing.T) {
	root := t.TempDir()
	server, client := net.Pipe()
	s := New(server, Config{
		Directory: directory.New(),
		Assembler: upload.New(root),
	})
	go s.Serve()
	defer client.Close()

	clientID, aesKey := registerAndSubmitKey(t, client, "alice")

	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	ciphertext := encryptCBCForUpload(t, aesKey, plaintext)

	sendRequest(t, client, clientID, wire.FileUpload, (&wire.FileUploadPayload{
		ContentSize:    uint32(len(ciphertext)),
		OrigFileSize:   uint32(len(plaintext)),
		PacketNumber:   1,
		TotalPackets:   1,
		FileName:       "note.txt",
		MessageContent: ciphertext,
	}).Encode())

	header, payload := readResponse(t, client)
	require.Equal(t, wire.FileUploadResponse, header.Code)

	resp, err := wire.DecodeFileUploadResponsePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, clientID, resp.ClientID)
	assert.Equal(t, "note.txt", resp.FileName)
	assert.EqualValues(t, len(ciphertext), resp.ContentSize)
	assert.Equal(t, cryptoutil.MemCRC(plaintext), resp.CRC)

	assert.FileExists(t, filepath.Join(root, "alice", "note.txt"))
	on, err := os.ReadFile(filepath.Join(root, "alice", "note.txt"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, on)
}

func TestSession_FileUpload_MultiPacketSuccess(t *testing.T) {
	root := t.TempDir()
	server, client := net.Pipe()
	s := New(server, Config{
		Directory: directory.New(),
		Assembler: upload.New(root),
	})
	go s.Serve()
	defer client.Close()

	clientID, aesKey := registerAndSubmitKey(t, client, "bob")

	plaintext := []byte("a payload long enough to span several simulated packets of ciphertext")
	ciphertext := encryptCBCForUpload(t, aesKey, plaintext)
	mid := len(ciphertext) / 2

	sendRequest(t, client, clientID, wire.FileUpload, (&wire.FileUploadPayload{
		ContentSize:    uint32(len(ciphertext)),
		OrigFileSize:   uint32(len(plaintext)),
		PacketNumber:   1,
		TotalPackets:   2,
		FileName:       "data.bin",
		MessageContent: ciphertext[:mid],
	}).Encode())
	// No response is expected for a non-final packet: the next write on
	// this pipe is the packet 2 request itself, so there is nothing to
	// read here.

	sendRequest(t, client, clientID, wire.FileUpload, (&wire.FileUploadPayload{
		ContentSize:    uint32(len(ciphertext)),
		OrigFileSize:   uint32(len(plaintext)),
		PacketNumber:   2,
		TotalPackets:   2,
		FileName:       "data.bin",
		MessageContent: ciphertext[mid:],
	}).Encode())

	header, payload := readResponse(t, client)
	require.Equal(t, wire.FileUploadResponse, header.Code)

	resp, err := wire.DecodeFileUploadResponsePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, "data.bin", resp.FileName)
	assert.Equal(t, cryptoutil.MemCRC(plaintext), resp.CRC)

	on, err := os.ReadFile(filepath.Join(root, "bob", "data.bin"))
	require.NoError(t, err)
	assert.Equal(t, plaintext, on)
}
