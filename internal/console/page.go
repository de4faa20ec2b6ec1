package console

import (
	"embed"
	"html/template"
	"io"
)

//go:embed templates/embed.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/embed.html"))

// Page describes the console embed page for one namespace.
type Page struct {
	Title         string
	ConsoleURL    string
	ConsoleOrigin string
	SocketPath    string
}

// Render writes the page. It embeds ConsoleURL in an iframe and relays
// messages between the iframe and the socket at SocketPath, accepting only
// messages posted from ConsoleOrigin.
func (p Page) Render(w io.Writer) error {
	return pageTemplate.Execute(w, p)
}

// ContentSecurityPolicy returns the policy served with the page.
func (p Page) ContentSecurityPolicy() string {
	return "default-src 'self'; script-src 'unsafe-inline'; style-src 'unsafe-inline'; connect-src 'self'; frame-src " + p.ConsoleOrigin
}
