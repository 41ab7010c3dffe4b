// Package metrics implements a standalone HTTP server exposing pprof
// profiles and the Prometheus scrape endpoint the statistics collector
// publishes into.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tracktile/tracktile/pkg/log"
	"github.com/tracktile/tracktile/pkg/stop"
)

// Server is a standalone HTTP server for /metrics and /debug/pprof/*.
type Server struct {
	srv *http.Server
}

// NewServer creates a Server and starts it asynchronously listening on
// addr. An empty addr disables the server: NewServer returns nil.
func NewServer(addr string) *Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	s := &Server{srv: &http.Server{Addr: addr, Handler: mux}}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.With("metrics").Fatal().Err(err).Msg("failed while serving metrics")
		}
	}()

	return s
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() stop.Result {
	if s == nil {
		return stop.AlreadyStopped
	}

	c := make(stop.Channel)
	go func() {
		c.Done(s.srv.Shutdown(context.Background()))
	}()
	return c.Result()
}
