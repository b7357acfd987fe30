package handlers

import (
	"net/http"
	"net/netip"

	"github.com/gin-gonic/gin"
	"github.com/techno-hippies/heavengate/internal/api/models"
	"github.com/techno-hippies/heavengate/internal/users"
)

// CreateDevice mints a new device for a wallet-bound user: it gets-or-creates
// the user row, assigns the next free tunnel address, persists the device,
// and upserts the in-memory user cache so the data path sees it immediately.
func (h *Handler) CreateDevice(c *gin.Context) {
	var req models.CreateDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error()})
		return
	}
	if req.WalletAddress == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "wallet_address is required"})
		return
	}
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "durable store unavailable"})
		return
	}

	deviceID, userID, vpnIP, err := h.db.CreateDeviceForWallet(c.Request.Context(), req.WalletAddress, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}

	if cache := h.getUsers(); cache != nil {
		if addr, perr := netip.ParseAddr(vpnIP); perr == nil {
			cache.Upsert(users.Cached{
				UserID:        userID,
				WalletAddress: req.WalletAddress,
				DeviceID:      deviceID,
				VPNAddr:       addr,
			})
		}
	}

	c.JSON(http.StatusCreated, models.DeviceResponse{
		ID:            deviceID,
		UserID:        userID,
		WalletAddress: req.WalletAddress,
		VPNAddr:       vpnIP,
		Name:          req.Name,
	})
}

// DeleteDevice removes a device's durable record and evicts it from the
// in-memory user cache by its cached tunnel address.
func (h *Handler) DeleteDevice(c *gin.Context) {
	deviceID := c.Param("id")
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "durable store unavailable"})
		return
	}

	_, _, vpnIP, err := h.db.DeviceByID(c.Request.Context(), deviceID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "device not found"})
		return
	}

	if err := h.db.DeleteDevice(c.Request.Context(), deviceID); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: err.Error()})
		return
	}

	if cache := h.getUsers(); cache != nil {
		if addr, perr := netip.ParseAddr(vpnIP); perr == nil {
			cache.Remove(addr)
		}
	}

	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// DeviceStatus reports whether a device's tunnel has been seen recently.
func (h *Handler) DeviceStatus(c *gin.Context) {
	deviceID := c.Param("id")
	if h.db == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "durable store unavailable"})
		return
	}
	if _, _, _, err := h.db.DeviceByID(c.Request.Context(), deviceID); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "device not found"})
		return
	}

	resp := models.DeviceStatusResponse{DeviceID: deviceID}
	if cache := h.getUsers(); cache != nil {
		if t, ok := cache.LastSeenAt(deviceID); ok {
			resp.LastSeenAt = &t
		}
		resp.Connected = cache.IsConnected(deviceID, connectedWindowMinutes)
	}
	c.JSON(http.StatusOK, resp)
}

// connectedWindowMinutes is how recently a device must have queried the
// gateway to be reported as connected.
const connectedWindowMinutes = 5.0
