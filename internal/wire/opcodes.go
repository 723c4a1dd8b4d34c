package wire

// RequestCode identifies the kind of request payload that follows a
// RequestHeader.
type RequestCode uint16

// Request opcodes. This is the closed set of valid request codes; any other
// value fails header parsing with ErrMalformedHeader.
const (
	Register            RequestCode = 825
	PublicKeySubmission RequestCode = 826
	Reconnection        RequestCode = 827
	FileUpload          RequestCode = 828
	CRCConfirmation     RequestCode = 900
	Retry               RequestCode = 901
	CRCFailure          RequestCode = 902
)

// Valid reports whether code is one of the seven recognized request codes.
func (c RequestCode) Valid() bool {
	switch c {
	case Register, PublicKeySubmission, Reconnection, FileUpload, CRCConfirmation, Retry, CRCFailure:
		return true
	default:
		return false
	}
}

func (c RequestCode) String() string {
	switch c {
	case Register:
		return "REGISTER"
	case PublicKeySubmission:
		return "PUBLIC_KEY_SUBMISSION"
	case Reconnection:
		return "RECONNECTION"
	case FileUpload:
		return "FILE_UPLOAD"
	case CRCConfirmation:
		return "CRC_CONFIRMATION"
	case Retry:
		return "RETRY"
	case CRCFailure:
		return "CRC_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// ResponseCode identifies the kind of response payload that follows a
// ResponseHeader.
type ResponseCode uint16

const (
	RegisterSuccess        ResponseCode = 1600
	RegisterFailure        ResponseCode = 1601
	PublicKeyResponse      ResponseCode = 1602
	FileUploadResponse     ResponseCode = 1603
	ConfirmationResponse   ResponseCode = 1604
	RetryConnectionSuccess ResponseCode = 1605
	RetryConnectionFailure ResponseCode = 1606
	GeneralFailure         ResponseCode = 1607
)

func (c ResponseCode) String() string {
	switch c {
	case RegisterSuccess:
		return "REGISTER_SUCCESS"
	case RegisterFailure:
		return "REGISTER_FAILURE"
	case PublicKeyResponse:
		return "PUBLIC_KEY_RESPONSE"
	case FileUploadResponse:
		return "FILE_UPLOAD_RESPONSE"
	case ConfirmationResponse:
		return "CONFIRMATION_RESPONSE"
	case RetryConnectionSuccess:
		return "RETRY_CONNECTION_SUCCESS"
	case RetryConnectionFailure:
		return "RETRY_CONNECTION_FAILURE"
	case GeneralFailure:
		return "GENERAL_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Field sizes shared by request and response payload layouts, in bytes.
const (
	ClientIDSize    = 16
	VersionSize     = 1
	CodeSize        = 2
	PayloadSizeSize = 4

	UserNameSize  = 255
	PublicKeySize = 160
	FileNameSize  = 255

	ContentSizeSize  = 4
	OrigFileSizeSize = 4
	PacketNumberSize = 2
	TotalPacketsSize = 2

	CRCSize = 4
)

// RequestHeaderSize is the fixed size of a request header on the wire.
const RequestHeaderSize = ClientIDSize + VersionSize + CodeSize + PayloadSizeSize // 23

// ResponseHeaderSize is the fixed size of a response header on the wire.
const ResponseHeaderSize = VersionSize + CodeSize + PayloadSizeSize // 7

// FileUploadFixedFieldsSize is the portion of a FILE_UPLOAD payload that
// precedes message_content: content_size + orig_file_size + packet_number +
// total_packets + file_name.
const FileUploadFixedFieldsSize = ContentSizeSize + OrigFileSizeSize + PacketNumberSize + TotalPacketsSize + FileNameSize // 267
