// Package models_test provides behavior tests for the API models package.
package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/techno-hippies/heavengate/internal/api/models"
)

func TestErrorResponse_JSON(t *testing.T) {
	resp := models.ErrorResponse{Error: "something went wrong"}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.ErrorResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "something went wrong", decoded.Error)
}

func TestStatusResponse_JSON(t *testing.T) {
	resp := models.StatusResponse{Status: "ok"}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.StatusResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "ok", decoded.Status)
}

func TestServerStatsResponse_JSON(t *testing.T) {
	startTime := time.Now()
	resp := models.ServerStatsResponse{
		Uptime:        "1h30m",
		UptimeSeconds: 5400,
		StartTime:     startTime,
		CPU: models.CPUStats{
			NumCPU:      8,
			UsedPercent: 25.5,
			IdlePercent: 74.5,
		},
		Memory: models.MemoryStats{
			TotalMB:     16384.0,
			FreeMB:      8192.0,
			UsedMB:      8192.0,
			UsedPercent: 50.0,
		},
		Gateway: models.GatewayStatsResponse{
			Devices:           3,
			TelemetryQueueLen: 12,
		},
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.ServerStatsResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "1h30m", decoded.Uptime)
	assert.Equal(t, int64(5400), decoded.UptimeSeconds)
	assert.Equal(t, 8, decoded.CPU.NumCPU)
	assert.InDelta(t, 25.5, decoded.CPU.UsedPercent, 0.001)
	assert.InDelta(t, 50.0, decoded.Memory.UsedPercent, 0.001)
	assert.Equal(t, 3, decoded.Gateway.Devices)
	assert.Equal(t, 12, decoded.Gateway.TelemetryQueueLen)
}

func TestCreateDeviceRequest_JSON(t *testing.T) {
	req := models.CreateDeviceRequest{WalletAddress: "0xabc", Name: "phone"}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded models.CreateDeviceRequest
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", decoded.WalletAddress)
	assert.Equal(t, "phone", decoded.Name)
}

func TestDeviceStatusResponse_OmitsLastSeenWhenNil(t *testing.T) {
	resp := models.DeviceStatusResponse{DeviceID: "d1", Connected: false}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	assert.NotContains(t, string(data), `"last_seen_at"`)
}

func TestRulesRequest_JSON(t *testing.T) {
	req := models.RulesRequest{Domains: []string{"ads.example.com", "tracking.test.com"}}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var decoded models.RulesRequest
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Len(t, decoded.Domains, 2)
}

func TestRulesResponse_JSON(t *testing.T) {
	resp := models.RulesResponse{UserID: "u1", Domains: []string{"example.com"}}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded models.RulesResponse
	err = json.Unmarshal(data, &decoded)
	require.NoError(t, err)

	assert.Equal(t, "u1", decoded.UserID)
	assert.Equal(t, []string{"example.com"}, decoded.Domains)
}
