package paybox

import (
	"fmt"
	"net/url"
)

// Notification is the set of variables the gateway appends to a callback.
// Optional fields are empty when the gateway did not send them.
type Notification struct {
	ReturnURL   string
	Amount      string
	Reference   string
	Response    string
	Transaction string
	Signature   string
}

// ParseNotification extracts a notification from callback query values.
func ParseNotification(values url.Values) (*Notification, error) {
	n := &Notification{
		ReturnURL:   values.Get("return_url"),
		Amount:      values.Get("amount"),
		Reference:   values.Get("reference"),
		Response:    values.Get("response"),
		Transaction: values.Get("transaction"),
		Signature:   values.Get("signature"),
	}
	if n.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrMalformedNotification)
	}
	if n.Response == "" {
		return nil, fmt.Errorf("%w: missing response", ErrMalformedNotification)
	}
	return n, nil
}

// SignedFields returns the fields the gateway signs, in signing order.
func (n *Notification) SignedFields() Fields {
	var fields Fields
	if n.ReturnURL != "" {
		fields = fields.Add("return_url", n.ReturnURL)
	}
	if n.Amount != "" {
		fields = fields.Add("amount", n.Amount)
	}
	return fields.
		Add("reference", n.Reference).
		Add("response", n.Response).
		Add("transaction", n.Transaction)
}

// LookupReference is the reference as stored on the platform side.
func (n *Notification) LookupReference() string {
	return RestoreSeparator(n.Reference)
}
