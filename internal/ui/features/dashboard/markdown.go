package dashboard

import (
	"bytes"

	"github.com/a-h/templ"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// md renders model output. Raw HTML in the source is dropped, which is
// goldmark's default without html.WithUnsafe.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// markdown converts src to HTML, falling back to escaped preformatted text.
func markdown(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "<pre>" + templ.EscapeString(src) + "</pre>"
	}
	return buf.String()
}
