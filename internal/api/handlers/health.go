package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/techno-hippies/heavengate/internal/api/models"
)

// Health reports liveness; it never depends on downstream components so it
// stays OK even if the durable store is unreachable.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats reports process uptime, a host CPU/memory snapshot, and the
// gateway's own cache and telemetry-queue sizes.
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	gateway := models.GatewayStatsResponse{}
	if cache := h.getUsers(); cache != nil {
		gateway.Devices = cache.Size()
	}
	if tc := h.getTelemetry(); tc != nil {
		gateway.TelemetryQueueLen = tc.QueueLen()
	}

	var dnsStats models.DNSStatsResponse
	if s := h.getDNSStats(); s != nil {
		snap := s.Snapshot()
		dnsStats = models.DNSStatsResponse{
			QueriesTotal: snap.QueriesTotal,
			QueriesUDP:   snap.QueriesUDP,
			QueriesTCP:   snap.QueriesTCP,
			ResponsesNX:  snap.ResponsesNX,
			ResponsesErr: snap.ResponsesErr,
			AvgLatencyMs: snap.AvgLatencyMs,
		}
	}

	resp := models.ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		Gateway:       gateway,
		DNS:           dnsStats,
	}

	c.JSON(http.StatusOK, resp)
}
