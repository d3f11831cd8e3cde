package paybox

import "strings"

// Separator may not appear in a reference on the wire.
const Separator = "/"

// SubstituteSeparator replaces the protocol separator with a space.
func SubstituteSeparator(reference string) string {
	return strings.ReplaceAll(reference, Separator, " ")
}

// RestoreSeparator reverses SubstituteSeparator on a received reference.
func RestoreSeparator(reference string) string {
	return strings.ReplaceAll(reference, " ", Separator)
}
