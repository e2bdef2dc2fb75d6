// Package handlers contains the full set of handler functions and routes
// supported by the viewer.
package handlers

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"os"

	"github.com/ardanlabs/powledger/business/web/mid"
	"github.com/ardanlabs/powledger/foundation/web"
	"go.uber.org/zap"
)

//go:embed assets/index.html
var assets embed.FS

// UIMux constructs an http.Handler with all application routes defined.
// The page streams the events of the node at nodeHost.
func UIMux(shutdown chan os.Signal, log *zap.SugaredLogger, nodeHost string) (*web.App, error) {
	app := web.NewApp(
		shutdown,
		mid.Logger(log),
		mid.Errors(log),
		mid.Panics(),
	)

	ig, err := newIndex(nodeHost)
	if err != nil {
		return nil, fmt.Errorf("loading index template: %w", err)
	}
	app.Handle(http.MethodGet, "", "/", ig.handler, mid.Cors("*"))

	return app, nil
}

// =============================================================================

type index struct {
	page []byte
}

func newIndex(nodeHost string) (index, error) {
	tmpl, err := template.ParseFS(assets, "assets/index.html")
	if err != nil {
		return index{}, err
	}

	var buf bytes.Buffer
	data := struct{ NodeHost string }{NodeHost: nodeHost}
	if err := tmpl.Execute(&buf, data); err != nil {
		return index{}, err
	}

	return index{page: buf.Bytes()}, nil
}

func (ig index) handler(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	web.SetStatusCode(ctx, http.StatusOK)

	_, err := w.Write(ig.page)
	return err
}
