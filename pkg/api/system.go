package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo reports local host stats alongside whatever the engine
// reports about itself. Engine unreachability degrades the response
// instead of failing it.
func (h *Handler) SystemInfo(w http.ResponseWriter, r *http.Request) {
	local := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"uptime":     time.Since(h.started).String(),
	}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		local["cpu_percent"] = cpuPercent[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		local["memory_used_bytes"] = memInfo.Used
		local["memory_total_bytes"] = memInfo.Total
		local["memory_percent"] = memInfo.UsedPercent
	}
	if diskInfo, err := disk.Usage("/"); err == nil {
		local["disk_used_bytes"] = diskInfo.Used
		local["disk_total_bytes"] = diskInfo.Total
	}

	resp := map[string]interface{}{
		"service": local,
		"tasks": map[string]interface{}{
			"tracked":     h.registry.Len(),
			"subscribers": h.bus.SubscriberCount(),
		},
	}

	if stats, err := h.engine.SystemStats(r.Context()); err == nil {
		resp["engine"] = stats
	} else {
		resp["engine_error"] = err.Error()
	}

	writeJSON(w, http.StatusOK, resp)
}
