package paybox

import "strings"

// Field is one key/value pair of a signed message.
type Field struct {
	Key   string
	Value string
}

// Fields is an ordered sequence of message fields. Order is part of the
// signed contract: the sequence is never sorted or deduplicated.
type Fields []Field

// Add appends a field and returns the extended sequence.
func (f Fields) Add(key, value string) Fields {
	return append(f, Field{Key: key, Value: value})
}

// Get returns the value of the first field named key.
func (f Fields) Get(key string) (string, bool) {
	for _, field := range f {
		if field.Key == key {
			return field.Value, true
		}
	}
	return "", false
}

// Canonical renders the fields as key=value pairs joined by '&', in order.
// Values are written as-is; the gateway signs the unescaped form.
func (f Fields) Canonical() string {
	var b strings.Builder
	for i, field := range f {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(field.Key)
		b.WriteByte('=')
		b.WriteString(field.Value)
	}
	return b.String()
}
