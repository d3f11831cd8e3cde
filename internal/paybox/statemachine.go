package paybox

import (
	"fmt"
	"strings"
)

// Response codes with a dedicated state.
const (
	ResponseApproved = "00000"
	ResponseCanceled = "00001"
	ResponseAwaiting = "99999"

	rejectedPrefix   = "001"
	rejectedByCenter = "Payment rejected by the authorization center"
)

// ResponseMessage returns the text for a known response code. The table
// is code, not data, so nothing can alter it at run time.
func ResponseMessage(code string) (string, bool) {
	switch code {
	case "00000":
		return "Approved", true
	case "00001":
		return "Canceled or connection to the authorization center failed or an internal error occured", true
	case "00003":
		return "Paybox Error", true
	case "00004":
		return "Card number invalid or visual cryptogram invalid", true
	case "00006":
		return "Access refused or site/rank/identifier incorrect", true
	case "00008":
		return "Incorrect expiry date", true
	case "00009":
		return "Error when during subscriber creation", true
	case "00010":
		return "Unknown currency", true
	case "00011":
		return "Amount incorrect", true
	case "00015":
		return "Payment already done", true
	case "00016":
		return "Subscriber already exists", true
	case "00021":
		return "Not authorized bin card", true
	case "00029":
		return "Not the same card used for the first payment", true
	case "00030":
		return "Timeout", true
	case "00031", "00032":
		return "Reserved", true
	case "00033":
		return "Unauthorized country code of the IP address of the cardholder's browser", true
	case "00040":
		return "Operation without 3DSecure authentication, blocked by the fraud filter", true
	case "99999":
		return "Payment waiting confirmation from the issuer", true
	}
	return "", false
}

// ResponseCodes lists every code with a table entry. Each call returns a
// new slice.
func ResponseCodes() []string {
	return []string{
		"00000", "00001", "00003", "00004", "00006", "00008", "00009", "00010",
		"00011", "00015", "00016", "00021", "00029", "00030", "00031", "00032",
		"00033", "00040", "99999",
	}
}

// Transition is the state change implied by a response code.
type Transition struct {
	State   State
	Message string
	// Validated is set when the payment is approved and the transaction
	// should be stamped with a validation time.
	Validated bool
}

// MapResponseCode maps a gateway response code to a transition. The amount
// check does not influence the mapping; mismatches are reported by
// CheckConsistency.
func MapResponseCode(code string, amountMatches bool) (Transition, error) {
	var t Transition
	mapped := false

	if strings.HasPrefix(code, rejectedPrefix) {
		t = Transition{State: StateError, Message: rejectedByCenter}
		mapped = true
	}

	if msg, ok := ResponseMessage(code); ok {
		switch code {
		case ResponseApproved:
			t = Transition{State: StateDone, Message: msg, Validated: true}
		case ResponseAwaiting:
			t = Transition{State: StatePending, Message: msg}
		case ResponseCanceled:
			t = Transition{State: StateCancel, Message: msg}
		default:
			t = Transition{State: StateError, Message: msg}
		}
		mapped = true
	}

	if !mapped {
		return Transition{}, fmt.Errorf("%w: %q", ErrUnrecognizedResponseCode, code)
	}
	return t, nil
}
