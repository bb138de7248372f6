// SPDX-License-Identifier: MIT

// Package health provides an HTTP health check endpoint for the
// pixie16-daqd daemon.
//
// The health check exposes the crate's acquisition status at /healthz as
// JSON, suitable for systemd watchdog, load balancer probes, or
// monitoring systems.
//
// A Prometheus-compatible /metrics endpoint is also served, providing
// state, run number, data rate, and error-latch gauges for fleet
// monitoring via Grafana/Prometheus.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// CrateStatus describes the run controller's current acquisition state,
// mirroring runctl.StatusSnapshot without importing that package (health
// only needs a handful of scalar fields, and keeping it decoupled avoids
// a health->runctl->health import cycle risk as both packages grow).
type CrateStatus struct {
	State      string  `json:"state"`
	RunNumber  int     `json:"run_number"`
	TotalTime  float64 `json:"total_time_seconds"`
	DataRate   float64 `json:"data_rate_bytes_per_second"`
	HadError   bool    `json:"had_error"`
	MCARunTime float64 `json:"mca_run_time_seconds"`
	FileOpen   string  `json:"file_open,omitempty"`
}

// SystemInfo contains system-level health data included in the health
// response: disk space for the output directory, since a full output
// filesystem silently stalls acquisition.
type SystemInfo struct {
	DiskFreeBytes  uint64 `json:"disk_free_bytes"`
	DiskTotalBytes uint64 `json:"disk_total_bytes"`
	DiskLowWarning bool   `json:"disk_low_warning,omitempty"`
}

// StatusProvider returns the current crate status. The daemon implements
// this interface (typically a thin wrapper around RunController.Status)
// to supply live data.
type StatusProvider interface {
	Status() CrateStatus
}

// SystemInfoProvider returns system-level health data.
type SystemInfoProvider interface {
	SystemInfo() SystemInfo
}

// Response is the JSON body returned by the health endpoint.
type Response struct {
	Status    string      `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Crate     CrateStatus `json:"crate"`
	System    *SystemInfo `json:"system,omitempty"`
}

// Handler serves the /healthz and /metrics endpoints.
type Handler struct {
	provider    StatusProvider
	sysProvider SystemInfoProvider
}

// NewHandler creates a health check HTTP handler.
func NewHandler(provider StatusProvider) *Handler {
	return &Handler{provider: provider}
}

// WithSystemInfo attaches an optional system info provider to the handler.
// When set, disk space is included in /healthz responses and /metrics
// output.
func (h *Handler) WithSystemInfo(p SystemInfoProvider) *Handler {
	h.sysProvider = p
	return h
}

// ServeHTTP implements http.Handler, routing to /healthz and /metrics.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/metrics":
		h.serveMetrics(w, r)
	default:
		h.serveHealth(w, r)
	}
}

func (h *Handler) serveHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := Response{Timestamp: time.Now()}

	if h.provider != nil {
		resp.Crate = h.provider.Status()
	}

	healthy := !resp.Crate.HadError
	if healthy {
		resp.Status = "healthy"
	} else {
		resp.Status = "unhealthy"
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()
		resp.System = &si
		if si.DiskLowWarning {
			resp.Status = "degraded"
			healthy = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if healthy && resp.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// serveMetrics writes a Prometheus text-format metrics response. This
// implements a minimal subset of the exposition format without any
// external dependency — no prometheus/client_golang import required.
func (h *Handler) serveMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var sb strings.Builder

	if h.provider != nil {
		cs := h.provider.Status()

		fmt.Fprintln(&sb, "# HELP pixie16_daq_had_error 1 when the run-scope error latch is set.")
		fmt.Fprintln(&sb, "# TYPE pixie16_daq_had_error gauge")
		errVal := 0
		if cs.HadError {
			errVal = 1
		}
		fmt.Fprintf(&sb, "pixie16_daq_had_error %d\n", errVal)

		fmt.Fprintln(&sb, "# HELP pixie16_daq_run_number Current or most recently completed run number.")
		fmt.Fprintln(&sb, "# TYPE pixie16_daq_run_number gauge")
		fmt.Fprintf(&sb, "pixie16_daq_run_number %d\n", cs.RunNumber)

		fmt.Fprintln(&sb, "# HELP pixie16_daq_total_time_seconds Accumulated acquisition live time for the current run.")
		fmt.Fprintln(&sb, "# TYPE pixie16_daq_total_time_seconds gauge")
		fmt.Fprintf(&sb, "pixie16_daq_total_time_seconds %.3f\n", cs.TotalTime)

		fmt.Fprintln(&sb, "# HELP pixie16_daq_data_rate_bytes_per_second Instantaneous data acquisition rate.")
		fmt.Fprintln(&sb, "# TYPE pixie16_daq_data_rate_bytes_per_second gauge")
		fmt.Fprintf(&sb, "pixie16_daq_data_rate_bytes_per_second %.3f\n", cs.DataRate)

		fmt.Fprintln(&sb, "# HELP pixie16_daq_state{state=...} 1 for the state the controller is currently in.")
		fmt.Fprintln(&sb, "# TYPE pixie16_daq_state gauge")
		fmt.Fprintf(&sb, "pixie16_daq_state{state=%q} 1\n", cs.State)
	}

	if h.sysProvider != nil {
		si := h.sysProvider.SystemInfo()

		fmt.Fprintln(&sb, "# HELP pixie16_daq_disk_free_bytes Free bytes on the output filesystem.")
		fmt.Fprintln(&sb, "# TYPE pixie16_daq_disk_free_bytes gauge")
		fmt.Fprintf(&sb, "pixie16_daq_disk_free_bytes %d\n", si.DiskFreeBytes)

		fmt.Fprintln(&sb, "# HELP pixie16_daq_disk_total_bytes Total bytes on the output filesystem.")
		fmt.Fprintln(&sb, "# TYPE pixie16_daq_disk_total_bytes gauge")
		fmt.Fprintf(&sb, "pixie16_daq_disk_total_bytes %d\n", si.DiskTotalBytes)

		diskLow := 0
		if si.DiskLowWarning {
			diskLow = 1
		}
		fmt.Fprintln(&sb, "# HELP pixie16_daq_disk_low_warning 1 when free disk is below configured threshold.")
		fmt.Fprintln(&sb, "# TYPE pixie16_daq_disk_low_warning gauge")
		fmt.Fprintf(&sb, "pixie16_daq_disk_low_warning %d\n", diskLow)
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(sb.String()))
}

// ListenAndServe starts the health check HTTP server on the given address.
// It shuts down gracefully when ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	return ListenAndServeReady(ctx, addr, handler, nil)
}

// ListenAndServeReady starts the health check HTTP server and signals
// readiness. The listener is bound synchronously so port-in-use errors are
// returned immediately rather than surfacing only after ctx.Done(). Once
// bound, the ready channel is closed (if non-nil).
func ListenAndServeReady(ctx context.Context, addr string, handler http.Handler, ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	if ready != nil {
		close(ready)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-errCh
}
