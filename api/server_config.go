package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the control API server shell.
type HTTPServerConfig struct {
	// ListenAddr is the host:port the control API listens on. Required.
	ListenAddr string

	// MetricsAddr is the host:port of the Prometheus metrics listener.
	// Empty disables the metrics server.
	MetricsAddr string

	// EnablePprof mounts the pprof handlers under /debug.
	EnablePprof bool

	// Log receives request logs and server lifecycle events.
	Log *slog.Logger

	// DrainDuration is how long the drain endpoint holds its request after
	// flipping readiness, giving load balancers time to notice.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests when
	// the server shuts down.
	GracefulShutdownDuration time.Duration

	// ReadTimeout bounds reading a request including its body.
	ReadTimeout time.Duration

	// WriteTimeout bounds writing a response.
	WriteTimeout time.Duration
}
