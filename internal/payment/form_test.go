package payment

import (
	"bytes"
	"testing"

	"github.com/mbd888/paybox/internal/paybox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderForm(t *testing.T) {
	req := &paybox.SignedRequest{
		ActionURL: paybox.DefaultTestActionURL,
		Fields: paybox.Fields{}.
			Add("PBX_SITE", "1999888").
			Add("PBX_CMD", `SO"42`).
			Add("PBX_HMAC", "ABCDEF"),
	}

	var buf bytes.Buffer
	require.NoError(t, RenderForm(&buf, req))
	html := buf.String()

	assert.Contains(t, html, `action="https://preprod-tpeweb.paybox.com/cgi/MYchoix_pagepaiement.cgi/"`)
	assert.Contains(t, html, `<input type="hidden" name="PBX_SITE" value="1999888">`)
	assert.Contains(t, html, `value="SO&#34;42"`)
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("PBX_SITE")), bytes.Index(buf.Bytes(), []byte("PBX_HMAC")))
	assert.Contains(t, html, "document.forms[0].submit()")
}
