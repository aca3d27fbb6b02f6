// Package httpserver is the process shell around the arena API.
//
// BaseServer mounts every RouteRegistrar on one chi router and adds the
// operational endpoints:
//
//   - /livez always answers while the process runs
//   - /readyz fails while draining
//   - /drain and /undrain toggle readiness for load balancers
//   - /debug/pprof when EnablePprof is set
//
// Metrics are served from a separate listener at MetricsAddr.
//
//	srv, err := httpserver.New(cfg, arenaServer)
//	if err != nil {
//	    return err
//	}
//	srv.RunInBackground()
//	defer srv.Shutdown()
package httpserver
