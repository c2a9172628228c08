/*
Package httpserver hosts the node control API over HTTP.

It wires the controlapi handler onto a chi router together with request
logging, per-route metrics, health and diagnostic endpoints, and an optional
separate metrics listener. The server itself stays agnostic of control
semantics: everything control-specific lives in api/controlapi.

# Endpoints

Besides the control API routes (see api/controlapi):

  - GET /livez - Liveness check
  - GET /readyz - Readiness check, 503 while draining
  - GET /drain - Gracefully mark server as not ready
  - GET /undrain - Mark server as ready
  - /debug - pprof profiler, when enabled

# Lifecycle

The server starts in the ready state. Draining flips readiness so load
balancers stop routing new work, while in-flight and follow-up requests
still complete; shutdown waits up to the configured graceful period.

# Example Usage

	cfg := &api.HTTPServerConfig{
		ListenAddr:               ":9092",
		MetricsAddr:              ":8090",
		Log:                      logger,
		DrainDuration:            30 * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              5 * time.Second,
		WriteTimeout:             10 * time.Second,
	}

	handler := controlapi.NewHandler(machine, engine, logger)
	server, err := httpserver.New(cfg, handler)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	server.RunInBackground()
	defer server.Shutdown()
*/
package httpserver
