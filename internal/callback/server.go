// Package callback runs the loopback HTTP listener that magic-link and
// OAuth redirects land on. The auth provider returns the token pair in the
// URL fragment, which never reaches the server; the callback page forwards
// it as query parameters to a second endpoint that hands the tokens to the
// application.
package callback

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"nani/internal/infra"
	"nani/internal/middleware"
)

// completePage is served on /auth/callback. It moves the fragment tokens
// into a query string so the listener can actually read them.
const completePage = `<!doctype html>
<html>
<head><title>Nani-AI sign-in</title></head>
<body>
<p>Completing sign-in&hellip;</p>
<script>
  var params = new URLSearchParams(window.location.hash.replace(/^#/, ""));
  if (params.get("access_token")) {
    window.location.replace("/auth/complete?" + params.toString());
  } else {
    document.body.textContent = "Sign-in failed: no token in redirect.";
  }
</script>
</body>
</html>`

const donePage = `<!doctype html>
<html>
<head><title>Nani-AI sign-in</title></head>
<body><p>Signed in. You can close this tab and return to your terminal.</p></body>
</html>`

// Server is the loopback callback listener. It binds to localhost only and
// stays up for the life of the process so a sign-in can complete at any time.
type Server struct {
	port    string
	logger  zerolog.Logger
	deliver func(accessToken, refreshToken string)
	srv     *infra.HTTPServer
}

// New constructs a Server. deliver is invoked once per completed redirect
// with the raw token pair.
func New(port string, logger zerolog.Logger, deliver func(accessToken, refreshToken string)) *Server {
	s := &Server{port: port, logger: logger, deliver: deliver}
	s.srv = infra.NewHTTPServer(port, s.router())
	return s
}

// RedirectURL is the address sign-in flows should redirect back to.
func (s *Server) RedirectURL() string {
	return "http://localhost:" + s.port + "/auth/callback"
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Logger(s.logger),
		chimw.Recoverer,
	)
	r.Get("/auth/callback", s.handleCallback)
	r.Get("/auth/complete", s.handleComplete)
	return r
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	// Some providers deliver tokens as query parameters directly; skip
	// the fragment shim in that case.
	if r.URL.Query().Get("access_token") != "" {
		s.handleComplete(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(completePage))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	access := strings.TrimSpace(r.URL.Query().Get("access_token"))
	refresh := strings.TrimSpace(r.URL.Query().Get("refresh_token"))
	if access == "" {
		s.logger.Warn().Msg("sign-in redirect arrived without an access token")
		http.Error(w, "missing access_token", http.StatusBadRequest)
		return
	}
	s.deliver(access, refresh)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(donePage))
}

// Start runs the listener until ctx is cancelled.
func (s *Server) Start(ctx context.Context) {
	go func() {
		if err := s.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("callback listener failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()
}
