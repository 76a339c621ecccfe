// Package pprof mounts the runtime profiling endpoints on the gin router.
package pprof

import (
	"crypto/subtle"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Prefix is where the profiling endpoints are mounted.
const Prefix = "/debug/pprof"

// Config controls profiling. With an empty Token the endpoints are
// unauthenticated, so keep the listener on loopback in that case.
type Config struct {
	Enabled bool
	Token   string

	MutexProfileFraction int
	BlockProfileRate     int
}

// ApplyRates sets the runtime sampling rates. Zero keeps the Go default.
func ApplyRates(cfg Config) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Mount registers the profiling handlers on r. It does nothing when
// cfg.Enabled is false.
func Mount(r gin.IRouter, cfg Config) {
	if !cfg.Enabled {
		return
	}
	ApplyRates(cfg)

	g := r.Group(Prefix, auth(cfg.Token))
	g.GET("/", gin.WrapF(hpprof.Index))
	g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
	g.GET("/profile", gin.WrapF(hpprof.Profile))
	g.GET("/symbol", gin.WrapF(hpprof.Symbol))
	g.POST("/symbol", gin.WrapF(hpprof.Symbol))
	g.GET("/trace", gin.WrapF(hpprof.Trace))
	// Named profiles: heap, goroutine, allocs, block, mutex, threadcreate.
	g.GET("/:name", func(c *gin.Context) {
		hpprof.Handler(c.Param("name")).ServeHTTP(c.Writer, c.Request)
	})
}

// auth accepts "Authorization: Bearer <token>" or "?token=<token>".
func auth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		got := c.Query("token")
		if got == "" {
			const p = "Bearer "
			if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) {
				got = strings.TrimSpace(strings.TrimPrefix(ah, p))
			}
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
