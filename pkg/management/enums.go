package management

// ReplyCode is a three-digit BEEP reply code (RFC 3080 Section 8).
type ReplyCode int

// Reply codes.
const (
	CodeSuccess               ReplyCode = 200
	CodeServiceNotAvailable   ReplyCode = 421
	CodeActionNotTaken        ReplyCode = 450
	CodeActionAborted         ReplyCode = 451
	CodeTemporaryAuthFailure  ReplyCode = 454
	CodeSyntaxError           ReplyCode = 500
	CodeParameterSyntaxError  ReplyCode = 501
	CodeParameterNotSupported ReplyCode = 504
	CodeAuthRequired          ReplyCode = 530
	CodeAuthTooWeak           ReplyCode = 534
	CodeAuthFailure           ReplyCode = 535
	CodeNotAuthorized         ReplyCode = 537
	CodeEncryptionRequired    ReplyCode = 538
	CodeRequestedNotTaken     ReplyCode = 550
	CodeParameterInvalid      ReplyCode = 553
	CodeTransactionFailed     ReplyCode = 554
)

// String returns the RFC 3080 meaning of the code.
func (c ReplyCode) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeServiceNotAvailable:
		return "service not available"
	case CodeActionNotTaken:
		return "requested action not taken"
	case CodeActionAborted:
		return "requested action aborted"
	case CodeTemporaryAuthFailure:
		return "temporary authentication failure"
	case CodeSyntaxError:
		return "general syntax error"
	case CodeParameterSyntaxError:
		return "syntax error in parameters"
	case CodeParameterNotSupported:
		return "parameter not implemented"
	case CodeAuthRequired:
		return "authentication required"
	case CodeAuthTooWeak:
		return "authentication mechanism insufficient"
	case CodeAuthFailure:
		return "authentication failure"
	case CodeNotAuthorized:
		return "action not authorized for user"
	case CodeEncryptionRequired:
		return "authentication mechanism requires encryption"
	case CodeRequestedNotTaken:
		return "requested action not taken"
	case CodeParameterInvalid:
		return "parameter invalid"
	case CodeTransactionFailed:
		return "transaction failed"
	default:
		return "Unknown"
	}
}

// IsValid returns true for three-digit codes.
func (c ReplyCode) IsValid() bool {
	return c >= 100 && c <= 999
}

// IsPositive returns true for 2xx codes.
func (c ReplyCode) IsPositive() bool {
	return c >= 200 && c < 300
}
