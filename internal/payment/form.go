package payment

import (
	"html/template"
	"io"

	"github.com/mbd888/paybox/internal/paybox"
)

// The form posts itself on load; the button covers browsers without scripts.
var checkoutForm = template.Must(template.New("checkout").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Redirecting to payment</title></head>
<body onload="document.forms[0].submit()">
<form method="post" action="{{.ActionURL}}">
{{- range .Fields}}
<input type="hidden" name="{{.Key}}" value="{{.Value}}">
{{- end}}
<noscript><button type="submit">Continue to payment</button></noscript>
</form>
</body>
</html>
`))

// RenderForm writes the auto-submitting HTML form for req.
func RenderForm(w io.Writer, req *paybox.SignedRequest) error {
	return checkoutForm.Execute(w, req)
}
