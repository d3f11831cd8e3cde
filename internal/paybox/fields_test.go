package paybox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFields_Canonical(t *testing.T) {
	tests := []struct {
		name   string
		fields Fields
		want   string
	}{
		{"empty", nil, ""},
		{"single", Fields{{"a", "1"}}, "a=1"},
		{"ordered", Fields{{"b", "2"}, {"a", "1"}, {"c", "3"}}, "b=2&a=1&c=3"},
		{"values are not escaped", Fields{{"url", "https://x/y?z=1&w=2"}, {"cmd", "SO 1"}}, "url=https://x/y?z=1&w=2&cmd=SO 1"},
		{"empty value", Fields{{"a", ""}, {"b", "x"}}, "a=&b=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fields.Canonical())
		})
	}
}

func TestFields_CanonicalIsOrderSensitive(t *testing.T) {
	keys := []string{"site", "rank", "total", "cmd"}
	base := Fields{}
	for _, k := range keys {
		base = base.Add(k, k+"-value")
	}
	want := base.Canonical()

	// Every rotation and the reversal must produce a different message.
	for shift := 1; shift < len(keys); shift++ {
		rotated := append(Fields{}, base[shift:]...)
		rotated = append(rotated, base[:shift]...)
		assert.NotEqual(t, want, rotated.Canonical(), "rotation %d", shift)
	}
	reversed := Fields{}
	for i := len(base) - 1; i >= 0; i-- {
		reversed = append(reversed, base[i])
	}
	assert.NotEqual(t, want, reversed.Canonical())
}

func TestFields_CanonicalIsDeterministic(t *testing.T) {
	f := Fields{}.Add("PBX_SITE", "1999888").Add("PBX_RANG", "32").Add("PBX_TOTAL", "1000")
	first := f.Canonical()
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, f.Canonical())
	}
}

func TestFields_Get(t *testing.T) {
	f := Fields{}.Add("a", "1").Add("b", "2").Add("a", "3")

	v, ok := f.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok = f.Get("missing")
	assert.False(t, ok)
}

func TestSeparatorRoundTrip(t *testing.T) {
	// Spaces are not representable: they come back as the separator.
	for _, ref := range []string{"SO042", "SO042-1", "", "INV_2024_0001"} {
		assert.Equal(t, ref, RestoreSeparator(SubstituteSeparator(ref)))
	}

	for _, ref := range []string{"SO/042", "INV/2024/0001", "/lead", "trail/"} {
		wire := SubstituteSeparator(ref)
		assert.NotContains(t, wire, Separator)
		assert.Equal(t, ref, RestoreSeparator(wire))
	}
}
