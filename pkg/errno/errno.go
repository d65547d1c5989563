package errno

// Errno defines the error code logic
type Errno struct {
	Code    int
	Message string
}

func (e Errno) Error() string {
	return e.Message
}

// WithMessage returns a copy carrying a more specific message
func (e Errno) WithMessage(msg string) Errno {
	return Errno{Code: e.Code, Message: msg}
}

// Decode tries to convert an error to Errno
func Decode(err error) (int, string) {
	if err == nil {
		return OK.Code, OK.Message
	}

	switch typed := err.(type) {
	case *Errno:
		return typed.Code, typed.Message
	case Errno:
		return typed.Code, typed.Message
	default:
		return InternalServerError.Code, err.Error()
	}
}

// Common Errors
var (
	OK                  = Errno{Code: 0, Message: "Success"}
	InternalServerError = Errno{Code: 10001, Message: "Internal server error"}
	ErrBind             = Errno{Code: 10002, Message: "Error occurred while binding the request body to the struct"}
	ErrTokenInvalid     = Errno{Code: 10003, Message: "Token invalid"}
	ErrDatabase         = Errno{Code: 10004, Message: "Database error"}
)

// Business Errors (20000+)
var (
	ErrUserNotFound        = Errno{Code: 20101, Message: "User not found"}
	ErrPasswordIncorrect   = Errno{Code: 20102, Message: "Password incorrect"}
	ErrValidation          = Errno{Code: 20103, Message: "Validation failed"}
	ErrRecipientNotFound   = Errno{Code: 20201, Message: "Recipient not found"}
	ErrRecipientResolution = Errno{Code: 20202, Message: "Recipient could not be resolved"}
	ErrInsufficientBalance = Errno{Code: 20301, Message: "Insufficient token balance"}
	ErrUnsupportedToken    = Errno{Code: 20302, Message: "Unsupported token"}
	ErrTransactionNotFound = Errno{Code: 20303, Message: "Transaction not found"}
	ErrTransactionFailed   = Errno{Code: 20304, Message: "Transaction execution failed"}
	ErrSenderBusy          = Errno{Code: 20305, Message: "Another transfer from this sender is in flight"}
	ErrInvoiceNotFound     = Errno{Code: 20401, Message: "Invoice not found"}
	ErrInvoiceNotPayable   = Errno{Code: 20402, Message: "Invoice is not payable"}
	ErrConversionFailed    = Errno{Code: 20501, Message: "All conversion providers failed"}
)
