// Package statusweb implements the optional local review page: an
// HTTP+websocket server that serves the saved match/step images and
// pushes every published event live, adapted from lepton's
// WebServer/loggingHandler pair in cmd/lepton/server.go. It is off by
// default: a loopback-bindable read-only viewer, not additional outbound
// networking.
package statusweb

import (
	"bufio"
	"log/slog"
	"net"
	"net/http"

	servedir "github.com/maruel/serve-dir"

	"github.com/catcierge/catcierge/internal/pubsub"
)

// Server serves the status page at "/", the image archive under
// "/images/", and live events on "/stream".
type Server struct {
	hub *pubsub.WSHub
	srv *http.Server
}

// New builds a Server that serves outputDir's contents under /images/ and
// streams hub's publishes on /stream. addr is an http.Server address, e.g.
// "127.0.0.1:8080".
func New(addr, outputDir string, hub *pubsub.WSHub) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", root)
	mux.Handle("/images/", http.StripPrefix("/images/", servedir.New(outputDir)))
	mux.Handle("/stream", hub.Handler())

	return &Server{
		hub: hub,
		srv: &http.Server{Addr: addr, Handler: loggingHandler{mux}},
	}
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *Server) ListenAndServe() error {
	slog.Info("statusweb listening", "addr", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(rootPage))
}

const rootPage = `<!DOCTYPE html>
<html><head><title>catcierge</title></head>
<body>
<h1>catcierge status</h1>
<p>Saved images: <a href="/images/">/images/</a></p>
<p>Live events: connect a websocket to /stream, each frame is
"topic\n&lt;payload&gt;".</p>
</body></html>
`

// loggingHandler logs every request the way cmd/lepton/server.go's
// loggingHandler does, kept as a thin wrapper so net/http.Hijacker still
// passes through for the websocket upgrade on /stream.
type loggingHandler struct {
	handler http.Handler
}

type loggingResponseWriter struct {
	http.ResponseWriter
	length int
	status int
}

func (l *loggingResponseWriter) Write(data []byte) (int, error) {
	n, err := l.ResponseWriter.Write(data)
	l.length += n
	return n, err
}

func (l *loggingResponseWriter) WriteHeader(status int) {
	l.ResponseWriter.WriteHeader(status)
	l.status = status
}

// Hijack is needed for the /stream websocket upgrade.
func (l *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return l.ResponseWriter.(http.Hijacker).Hijack()
}

func (l loggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
	l.handler.ServeHTTP(lrw, r)
	slog.Debug("http", "remote", r.RemoteAddr, "status", lrw.status, "bytes", lrw.length, "method", r.Method, "uri", r.RequestURI)
}
