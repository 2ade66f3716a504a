package api

import (
	"net/http"
	"time"
)

type componentCheck struct {
	Status         string  `json:"status"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	Detail         string  `json:"detail,omitempty"`
}

type healthReport struct {
	Status     string                    `json:"status"`
	Timestamp  time.Time                 `json:"timestamp"`
	Components map[string]componentCheck `json:"components"`
}

// handleHealth reports the state of the configuration, the schedule engine
// and provider reachability. Any unhealthy component turns the endpoint 503.
func (api *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{
		Timestamp:  time.Now().UTC(),
		Components: map[string]componentCheck{},
	}

	report.Components["config"] = api.checkConfig()
	report.Components["scheduler"] = api.checkScheduler()
	report.Components["provider"] = api.checkProvider(r)

	report.Status = "healthy"
	code := http.StatusOK
	for _, c := range report.Components {
		if c.Status != "healthy" {
			report.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			break
		}
	}

	api.writeJSON(w, code, envelope{Success: code == http.StatusOK, Data: report})
}

func (api *Server) checkConfig() componentCheck {
	start := time.Now()
	clusters := api.orch.Clusters()
	check := componentCheck{Status: "healthy", ResponseTimeMs: msSince(start)}
	if len(clusters) == 0 {
		check.Status = "unhealthy"
		check.Detail = "no clusters configured"
	}
	return check
}

func (api *Server) checkScheduler() componentCheck {
	start := time.Now()
	check := componentCheck{Status: "healthy", ResponseTimeMs: msSince(start)}
	if !api.orch.SchedulerRunning() {
		check.Status = "unhealthy"
		check.Detail = "schedule engine not running"
	}
	return check
}

// checkProvider resolves the first cluster's status. A cached snapshot
// answers most probes; the provider is only hit when the cache is cold.
func (api *Server) checkProvider(r *http.Request) componentCheck {
	clusters := api.orch.Clusters()
	if len(clusters) == 0 {
		return componentCheck{Status: "unknown", Detail: "no clusters to probe"}
	}

	start := time.Now()
	view, err := api.orch.GetClusterStatus(r.Context(), clusters[0].Name, false)
	check := componentCheck{Status: "healthy", ResponseTimeMs: msSince(start)}
	switch {
	case err != nil:
		check.Status = "unhealthy"
		check.Detail = err.Error()
	case view.Error != "":
		check.Status = "unhealthy"
		check.Detail = view.Error
	}
	return check
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
