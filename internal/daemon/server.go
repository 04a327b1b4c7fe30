package daemon

import (
	"encoding/json"
	"net/http"
)

// handler builds the status API. Everything it serves is a read-only
// snapshot; the monitoring endpoints only flip flags the control loop
// polls, so no handler ever touches orchestrator state directly.
func (d *Daemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", d.handleStatus)
	mux.HandleFunc("/samples", d.handleSamples)
	mux.HandleFunc("/monitor/start", d.handleMonitorStart)
	mux.HandleFunc("/monitor/stop", d.handleMonitorStop)
	return mux
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, d.orch.Status())
}

// samplesResponse carries the raw sensor ring for calibration tooling.
type samplesResponse struct {
	FailedOpen    bool         `json:"failed_open"`
	ActiveSamples uint32       `json:"active_samples"`
	IdleSamples   uint32       `json:"idle_samples"`
	LongestIdleMs int64        `json:"longest_idle_ms"`
	Samples       []sampleJSON `json:"samples"`
}

type sampleJSON struct {
	Timestamp  uint32 `json:"timestamp"`
	PulseCount uint16 `json:"pulse_count"`
	Active     bool   `json:"active"`
}

func (d *Daemon) handleSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := d.mon.Statistics()
	resp := samplesResponse{
		FailedOpen:    d.mon.FailedOpen(),
		ActiveSamples: stats.TotalActive,
		IdleSamples:   stats.TotalIdle,
		LongestIdleMs: stats.LongestIdle.Milliseconds(),
	}
	for _, s := range d.mon.Samples() {
		resp.Samples = append(resp.Samples, sampleJSON{
			Timestamp:  s.Timestamp,
			PulseCount: s.PulseCount,
			Active:     s.Active,
		})
	}
	writeJSON(w, resp)
}

func (d *Daemon) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d.orch.RequestMonitoring()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]bool{"monitoring": true})
}

func (d *Daemon) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	d.orch.StopMonitoring()
	writeJSON(w, map[string]bool{"monitoring": false})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
