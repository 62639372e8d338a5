// Package views embeds the HTML templates rendered by the fiber html engine.
package views

import (
	"embed"
	"net/http"

	"github.com/gofiber/template/html/v2"
)

//go:embed *.html layouts/*.html
var files embed.FS

// NewEngine returns the template engine. Reload re-parses templates on every
// render, which is only useful in development.
func NewEngine(reload bool) *html.Engine {
	engine := html.NewFileSystem(http.FS(files), ".html")
	engine.Reload(reload)
	return engine
}
