package paybox

import "errors"

var (
	// ErrConfiguration means the merchant configuration cannot produce a
	// signed request (missing key, bad hex, no action URL).
	ErrConfiguration = errors.New("paybox: invalid merchant configuration")

	// ErrTransactionNotFound means no transaction matches the reference.
	ErrTransactionNotFound = errors.New("paybox: no transaction for reference")

	// ErrAmbiguousReference means several transactions share the reference.
	ErrAmbiguousReference = errors.New("paybox: multiple transactions for reference")

	// ErrAuthenticity means the notification signature did not verify.
	ErrAuthenticity = errors.New("paybox: signature verification failed")

	// ErrUnrecognizedResponseCode means the response code has no mapping.
	ErrUnrecognizedResponseCode = errors.New("paybox: unrecognized response code")

	// ErrMalformedNotification means a required notification field is absent.
	ErrMalformedNotification = errors.New("paybox: malformed notification")
)

// IsLookupError reports whether err is a reference lookup failure.
func IsLookupError(err error) bool {
	return errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrAmbiguousReference)
}
