// Package api builds the HTTP surface: collection listing, folder
// JSON, audio/cover/description streaming, search/recent, archive download,
// and the REST mirror of the position protocol, all behind the capability
// token middleware of internal/auth.
package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/audioserve/audioserve/internal/auth"
	"github.com/audioserve/audioserve/internal/config"
	"github.com/audioserve/audioserve/internal/index"
	"github.com/audioserve/audioserve/internal/position"
	"github.com/audioserve/audioserve/internal/transcode"
)

// Server wires every dependency a handler needs. It holds no request state;
// one Server serves the whole process lifetime.
type Server struct {
	cfg    *config.Config
	idx    *index.Index
	pool   *transcode.Pool
	cache  *transcode.Cache // nil when the transcoding cache is disabled
	secret []byte
	authMW *auth.Middleware
	hub    *position.Hub
	static http.Handler // nil disables static asset serving
}

// NewServer builds a Server. cache and static may be nil.
func NewServer(cfg *config.Config, idx *index.Index, pool *transcode.Pool, cache *transcode.Cache, secret []byte, hub *position.Hub, staticDir string) *Server {
	s := &Server{
		cfg:    cfg,
		idx:    idx,
		pool:   pool,
		cache:  cache,
		secret: secret,
		authMW: auth.NewMiddleware(secret),
		hub:    hub,
	}
	if staticDir != "" {
		if _, err := os.Stat(staticDir); err == nil {
			s.static = http.FileServer(http.Dir(staticDir))
		}
	}
	return s
}

// Router builds the full chi.Mux, ready to hand to http.Server.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(stripURLPathPrefix(s.cfg.URLPathPrefix))
	r.Use(corsMiddleware(s.cfg))
	r.Use(rateLimitMiddleware(s.cfg))

	r.Post("/authenticate", s.handleAuthenticate)

	r.Group(func(pub chi.Router) {
		pub.Use(s.requireToken)
		pub.Get("/collections", s.handleCollections)
		pub.Get("/transcodings", s.handleTranscodings)
		pub.HandleFunc("/position", s.handlePositionUpgrade)

		// Collection-scoped routes, registered twice: once under an explicit
		// leading collection-id segment, once directly (collection 0):
		// /col denotes an optional leading /{collection_id}/ segment,
		// default 0.
		pub.Route("/{col}", func(r chi.Router) { mountCollectionRoutes(r, s) })
		mountCollectionRoutes(pub, s)
	})

	if s.static != nil {
		r.Handle("/*", s.static)
	}
	return r
}

func mountCollectionRoutes(r chi.Router, s *Server) {
	r.Get("/folder/*", s.handleFolder)
	r.Get("/audio/*", s.handleAudio)
	r.Get("/cover/*", s.handleCover)
	r.Get("/desc/*", s.handleDesc)
	r.Get("/search", s.handleSearch)
	r.Get("/recent", s.handleRecent)
	r.Get("/download/*", s.handleDownload)
	r.Get("/positions/*", s.handlePositionsGet)
	r.Post("/positions/*", s.handlePositionsPost)
}

// requireToken is a thin chi-friendly wrapper over auth.Middleware that
// honors --no-authentication.
func (s *Server) requireToken(next http.Handler) http.Handler {
	if s.cfg.NoAuthentication {
		return next
	}
	return s.authMW.RequireToken(next)
}
