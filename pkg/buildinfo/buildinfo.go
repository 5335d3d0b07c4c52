// Package buildinfo exposes the version stamped into the tradedoc binary.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// ServiceName identifies tradedoc in logs, /version and metrics.
const ServiceName = "tradedoc"

// These vars are set at build time via ldflags:
// -X github.com/otherjamesbrown/tradedoc-cli/pkg/buildinfo.Version=v0.3.0
// -X github.com/otherjamesbrown/tradedoc-cli/pkg/buildinfo.Commit=4f1c2ab
// -X github.com/otherjamesbrown/tradedoc-cli/pkg/buildinfo.BuildTime=2026-10-01T09:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info holds build information for the binary.
type Info struct {
	ServiceName string `json:"service_name" yaml:"service_name"`
	Version     string `json:"version" yaml:"version"`
	Commit      string `json:"commit" yaml:"commit"`
	BuildTime   string `json:"build_time" yaml:"build_time"`
	GoVersion   string `json:"go_version" yaml:"go_version"`
}

// Get returns the build info of this binary.
func Get() Info {
	return Info{
		ServiceName: ServiceName,
		Version:     Version,
		Commit:      Commit,
		BuildTime:   BuildTime,
		GoVersion:   runtime.Version(),
	}
}

// String returns a human-readable one-liner like "v0.3.0 (4f1c2ab, 2026-10-01T09:00:00Z)"
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// Handler responds with build info JSON.
func Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Get())
	}
}

// NewCollector returns a constant tradedoc_build_info gauge labelled with the build.
func NewCollector() prometheus.Collector {
	info := Get()
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tradedoc",
		Name:      "build_info",
		Help:      "Build information of the running tradedoc binary.",
		ConstLabels: prometheus.Labels{
			"version":    info.Version,
			"commit":     info.Commit,
			"go_version": info.GoVersion,
		},
	}, func() float64 { return 1 })
}
