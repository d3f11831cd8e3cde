package paybox

import "github.com/mbd888/paybox/internal/money"

// Mismatch is a notification field that disagrees with the stored
// transaction.
type Mismatch struct {
	Field    string `json:"field"`
	Received string `json:"received"`
	Expected string `json:"expected"`
}

// CheckConsistency compares a notification with its transaction. It never
// rejects: the caller decides what a mismatch is worth.
func CheckConsistency(tx *Transaction, n *Notification) []Mismatch {
	var mismatches []Mismatch

	if tx.AcquirerReference != "" && n.Transaction != tx.AcquirerReference {
		mismatches = append(mismatches, Mismatch{
			Field:    "transaction_reference",
			Received: n.Transaction,
			Expected: tx.AcquirerReference,
		})
	}

	// The gateway omits the amount unless the payment was approved.
	if n.Response == ResponseApproved && !amountMatches(tx.Amount, n.Amount) {
		expected := tx.Amount
		if normalized, ok := money.Normalize(tx.Amount); ok {
			expected = normalized
		}
		mismatches = append(mismatches, Mismatch{
			Field:    "amount",
			Received: n.Amount,
			Expected: expected,
		})
	}

	return mismatches
}

// AmountMatches reports whether the notification amount agrees with the
// transaction amount to two decimal places.
func AmountMatches(tx *Transaction, n *Notification) bool {
	return amountMatches(tx.Amount, n.Amount)
}

func amountMatches(stored, receivedMinor string) bool {
	expected, ok := money.Parse(stored)
	if !ok {
		return false
	}
	received := int64(0)
	if receivedMinor != "" {
		if received, ok = money.ParseMinor(receivedMinor); !ok {
			return false
		}
	}
	return received == expected
}
