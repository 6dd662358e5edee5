package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Router provides embeddable read-only HTTP handlers for the status bar.
// Endpoints:
//   - GET {basePath}/status: last published status line
//   - GET {basePath}/blocks: every block with its last run
//   - GET {basePath}/blocks/:name: a single block
//   - GET {basePath}/healthz: liveness
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	state    *State
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/blocks.
func NewRouter(state *State, basePath string) *Router {
	return &Router{state: state, basePath: sanitizeBase(basePath)}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/blocks", r.handleBlocks)
	group.GET("/blocks/:name", r.handleBlock)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer builds an http.Server for addr using this router.
func NewServer(addr, basePath string, state *State) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           NewRouter(state, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs the API on addr until ctx is cancelled. A non-nil tlsConfig
// serves HTTPS with the certificates it provides.
func Serve(ctx context.Context, addr, basePath string, state *State, tlsConfig *tls.Config) error {
	srv := NewServer(addr, basePath, state)
	errc := make(chan error, 1)
	if tlsConfig != nil {
		srv.TLSConfig = tlsConfig
		go func() { errc <- srv.ListenAndServeTLS("", "") }()
	} else {
		go func() { errc <- srv.ListenAndServe() }()
	}
	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK     bool   `json:"ok"`
	Uptime string `json:"uptime"`
	Blocks int    `json:"blocks"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.state.Status())
}

func (r *Router) handleBlocks(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.state.Blocks())
}

func (r *Router) handleBlock(c *gin.Context) {
	name := c.Param("name")
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid block name: allowed [A-Za-z0-9._-]"})
		return
	}
	bs, ok := r.state.Block(name)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown block: " + name})
		return
	}
	writeJSON(c, http.StatusOK, bs)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{
		OK:     true,
		Uptime: r.state.Uptime().Truncate(time.Second).String(),
		Blocks: len(r.state.Blocks()),
	})
}
