package session

import (
	"errors"

	"github.com/relaycrypt/securexfer/internal/cryptoutil"
	"github.com/relaycrypt/securexfer/internal/directory"
	"github.com/relaycrypt/securexfer/internal/logger"
	"github.com/relaycrypt/securexfer/internal/wire"
)

// handleRegister processes REGISTER (825): mint a new user under the
// requested name, or fail if it is taken. The client_id in the request
// header is ignored -- the client has none yet.
func (s *Session) handleRegister(header *wire.RequestHeader, payload []byte) error {
	req, err := wire.DecodeRegisterPayload(payload)
	if err != nil {
		return err
	}

	id, err := s.directory.Register(req.UserName)
	if err != nil {
		if errors.Is(err, directory.ErrAlreadyExists) {
			s.metrics.RegisterRejected()
			return s.respond(header, wire.RegisterFailure, nil)
		}
		return err
	}

	s.metrics.RegisterSucceeded()
	body, err := (&wire.ClientIDPayload{ClientID: id}).Encode()
	if err != nil {
		return err
	}
	return s.respond(header, wire.RegisterSuccess, body)
}

// handlePublicKeySubmission processes PUBLIC_KEY_SUBMISSION (826): record
// the client's RSA public key, mint a fresh AES session key, and return it
// wrapped under that public key.
func (s *Session) handlePublicKeySubmission(header *wire.RequestHeader, payload []byte) error {
	req, err := wire.DecodePublicKeySubmissionPayload(payload)
	if err != nil {
		return err
	}

	user, err := s.directory.Get(req.UserName)
	if err != nil {
		s.sendGeneralFailure(header)
		return nil
	}

	if err := s.directory.SetPublicKey(req.UserName, req.PublicKey); err != nil {
		s.sendGeneralFailure(header)
		return nil
	}

	aesKey, err := cryptoutil.RandomAESKey()
	if err != nil {
		return err
	}

	wrapped, err := cryptoutil.WrapAESKey(req.PublicKey, aesKey)
	if err != nil {
		logger.Warn("session: RSA wrap failed", "user", req.UserName, "error", err)
		s.metrics.CryptoFailure()
		s.sendGeneralFailure(header)
		return nil
	}

	if err := s.directory.SetAESKey(req.UserName, aesKey); err != nil {
		s.sendGeneralFailure(header)
		return nil
	}

	body, err := (&wire.WrappedKeyPayload{ClientID: user.UUID, WrappedAESKey: wrapped}).Encode()
	if err != nil {
		return err
	}
	return s.respond(header, wire.PublicKeyResponse, body)
}

// handleReconnection processes RECONNECTION (827): a previously-registered
// client asking for a new session key, typically after restarting. A
// reconnecting client has no client_id yet, so the response echoes back
// whatever client_id it sent on failure, and the directory's client_id on
// success.
func (s *Session) handleReconnection(header *wire.RequestHeader, payload []byte) error {
	req, err := wire.DecodeRegisterPayload(payload)
	if err != nil {
		return err
	}

	user, err := s.directory.Get(req.UserName)
	if err != nil || len(user.PublicKey) == 0 {
		body, encErr := (&wire.ClientIDPayload{ClientID: header.ClientID}).Encode()
		if encErr != nil {
			return encErr
		}
		return s.respond(header, wire.RetryConnectionFailure, body)
	}

	aesKey, err := cryptoutil.RandomAESKey()
	if err != nil {
		return err
	}

	wrapped, err := cryptoutil.WrapAESKey(user.PublicKey, aesKey)
	if err != nil {
		logger.Warn("session: RSA wrap failed on reconnection", "user", req.UserName, "error", err)
		s.metrics.CryptoFailure()
		body, encErr := (&wire.ClientIDPayload{ClientID: header.ClientID}).Encode()
		if encErr != nil {
			return encErr
		}
		return s.respond(header, wire.RetryConnectionFailure, body)
	}

	if err := s.directory.SetAESKey(req.UserName, aesKey); err != nil {
		return err
	}

	body, err := (&wire.WrappedKeyPayload{ClientID: user.UUID, WrappedAESKey: wrapped}).Encode()
	if err != nil {
		return err
	}
	return s.respond(header, wire.RetryConnectionSuccess, body)
}

// handleFileUpload processes FILE_UPLOAD (828): resolve the uploading user
// by the request header's client_id, append the ciphertext chunk, and, on
// the last packet, finalize (decrypt, checksum, write plaintext).
func (s *Session) handleFileUpload(header *wire.RequestHeader, payload []byte) error {
	req, err := wire.DecodeFileUploadPayload(payload, header.PayloadSize)
	if err != nil {
		return err
	}

	user, err := s.directory.FindByUUID(header.ClientID)
	if err != nil || len(user.AESKey) == 0 {
		s.sendGeneralFailure(header)
		return nil
	}

	if err := s.assembler.Append(user.Name, req.FileName, req.PacketNumber, req.MessageContent); err != nil {
		logger.Warn("session: append chunk failed", "user", user.Name, "file", req.FileName, "error", err)
		s.metrics.UploadFailed()
		s.sendGeneralFailure(header)
		return nil
	}

	if req.PacketNumber != req.TotalPackets {
		return nil
	}

	result, err := s.assembler.Finalize(user.Name, req.FileName, user.AESKey)
	if err != nil {
		logger.Warn("session: finalize upload failed", "user", user.Name, "file", req.FileName, "error", err)
		s.metrics.UploadFailed()
		s.sendGeneralFailure(header)
		return nil
	}
	s.metrics.UploadFinalized(len(result.Plaintext))

	body, err := (&wire.FileUploadResponsePayload{
		ClientID:    user.UUID,
		ContentSize: result.EncryptedFileSize,
		FileName:    req.FileName,
		CRC:         result.CRC,
	}).Encode()
	if err != nil {
		return err
	}
	return s.respond(header, wire.FileUploadResponse, body)
}

// handleCRCAcknowledge processes CRC_CONFIRMATION (900) and CRC_FAILURE
// (902) identically: both simply acknowledge receipt of the client's
// verdict on the uploaded file's checksum, echoing the request's client_id.
func (s *Session) handleCRCAcknowledge(header *wire.RequestHeader, payload []byte) error {
	if _, err := wire.DecodeFileNamePayload(payload); err != nil {
		return err
	}
	body, err := (&wire.ClientIDPayload{ClientID: header.ClientID}).Encode()
	if err != nil {
		return err
	}
	return s.respond(header, wire.ConfirmationResponse, body)
}

// handleRetry processes RETRY (901): the client asks the server to resend
// the previous response. No response is defined for this opcode; the
// session simply continues.
func (s *Session) handleRetry(_ *wire.RequestHeader, payload []byte) error {
	_, err := wire.DecodeFileNamePayload(payload)
	return err
}

func (s *Session) respond(req *wire.RequestHeader, code wire.ResponseCode, body []byte) error {
	h := wire.NewResponseHeader(req, code, uint32(len(body)))
	return s.writeResponse(h, body)
}
