// Package web serves the browser scanner page.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static
var assets embed.FS

// Static returns the embedded static tree rooted at static/.
func Static() fs.FS {
	sub, err := fs.Sub(assets, "static")
	if err != nil {
		panic(err)
	}
	return sub
}

// IndexHandler serves the scanner page.
func IndexHandler() http.Handler {
	static := Static()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, static, "index.html")
	})
}

// StaticHandler serves /static/*.
func StaticHandler() http.Handler {
	return http.StripPrefix("/static/", http.FileServerFS(Static()))
}
