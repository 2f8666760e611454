package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Faultbox/dmiscope/internal/assets"
	"github.com/Faultbox/dmiscope/internal/logger"
)

// NewRouter returns the preview routes plus the index page, wrapped in
// recovery, access logging and compression.
func NewRouter(m *assets.Manager) http.Handler {
	r := mux.NewRouter()
	NewHandler(m).RegisterRoutes(r)
	r.HandleFunc("/", indexHandler).Methods(http.MethodGet)

	std := zap.NewStdLog(logger.Log.Named("http"))
	var h http.Handler = r
	h = handlers.CompressHandler(h)
	h = handlers.LoggingHandler(std.Writer(), h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(std), handlers.PrintRecoveryStack(true))(h)
	return h
}

// Serve runs the preview server on addr until ctx is done.
func Serve(ctx context.Context, addr string, m *assets.Manager) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(m),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("preview server listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexPage))
}

const indexPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>dmiscope</title>
<style>
body { font-family: sans-serif; margin: 2em; }
#results div { display: inline-block; width: 160px; margin: 4px; text-align: center; font-size: 12px; word-break: break-all; }
#results img { image-rendering: pixelated; width: 64px; height: 64px; }
</style>
</head>
<body>
<input id="q" placeholder="search states or files" size="40" autofocus>
<p id="summary"></p>
<div id="results"></div>
<script>
const q = document.getElementById("q");
let timer;
q.addEventListener("input", () => {
  clearTimeout(timer);
  timer = setTimeout(search, 200);
});
async function search() {
  const res = await fetch("/api/search?inline=1&q=" + encodeURIComponent(q.value));
  const body = await res.json();
  document.getElementById("summary").textContent =
    body.results.length + " matches, " + body.indexed + " files indexed, " + body.failed + " failed";
  const out = document.getElementById("results");
  out.innerHTML = "";
  for (const m of body.results) {
    const d = document.createElement("div");
    const img = document.createElement("img");
    img.src = m.thumbnail_data || ("/thumb?ref=" + encodeURIComponent(m.thumbnail || ""));
    if (m.state) {
      const a = document.createElement("a");
      a.href = "/export.gif?scale=4&path=" + encodeURIComponent(m.path) + "&state=" + encodeURIComponent(m.state);
      a.appendChild(img);
      d.appendChild(a);
    } else {
      d.appendChild(img);
    }
    d.appendChild(document.createElement("br"));
    d.appendChild(document.createTextNode((m.state ? m.state + " @ " : "") + m.path));
    out.appendChild(d);
  }
}
</script>
</body>
</html>
`
