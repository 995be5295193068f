package domain

import "errors"

// Kind groups user-visible errors by how the user recovers from them.
type Kind string

const (
	// KindInputValidation: guard failures; the user corrects input and retries.
	KindInputValidation Kind = "input_validation"
	// KindUpstreamRequest: registration/payment/job-start call failed; retry the same action.
	KindUpstreamRequest Kind = "upstream_request"
	// KindTransfer: storage write failed after a job id was issued; re-upload.
	KindTransfer Kind = "transfer"
	// KindStreaming: the job itself failed; restart from upload.
	KindStreaming Kind = "streaming"
	// KindReferenceResolution: job done but the download pointer is missing; refresh.
	KindReferenceResolution Kind = "reference_resolution"
)

type Code string

const (
	CodeNoFileSelected      Code = "NoFileSelected"
	CodeInvalidEmail        Code = "InvalidEmail"
	CodeTermsNotAccepted    Code = "TermsNotAccepted"
	CodeUploadRequestFailed Code = "UploadRequestFailed"
	CodeStorageUploadFailed Code = "StorageUploadFailed"
	CodeCouponRejected      Code = "CouponRejected"
	CodeFreeTierFailed      Code = "FreeTierFailed"
	CodeCheckoutUnavailable Code = "CheckoutUnavailable"
	CodeJobFailed           Code = "JobFailed"
	CodeDownloadUnavailable Code = "DownloadUnavailable"
)

var codeKinds = map[Code]Kind{
	CodeNoFileSelected:      KindInputValidation,
	CodeInvalidEmail:        KindInputValidation,
	CodeTermsNotAccepted:    KindInputValidation,
	CodeUploadRequestFailed: KindUpstreamRequest,
	CodeStorageUploadFailed: KindTransfer,
	CodeCouponRejected:      KindUpstreamRequest,
	CodeFreeTierFailed:      KindUpstreamRequest,
	CodeCheckoutUnavailable: KindUpstreamRequest,
	CodeJobFailed:           KindStreaming,
	CodeDownloadUnavailable: KindReferenceResolution,
}

// Error is the user-visible error carried in Session.LastError.
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error whose Kind follows from the code.
func NewError(code Code, message string, cause error) *Error {
	return &Error{Kind: codeKinds[code], Code: code, Message: message, Err: cause}
}

// AsError extracts the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func CodeOf(err error) Code {
	if de, ok := AsError(err); ok {
		return de.Code
	}
	return ""
}

func KindOf(err error) Kind {
	if de, ok := AsError(err); ok {
		return de.Kind
	}
	return ""
}
