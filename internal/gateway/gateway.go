// Package gateway implements the per-query decision pipeline: identify the
// requesting device from its tunnel address, optionally answer under the
// private TLD, enforce the requester's block list, forward everything else
// upstream, and emit one telemetry event per query.
package gateway

import (
	"context"
	"log/slog"
	"net/netip"
	"time"

	"github.com/techno-hippies/heavengate/internal/categorize"
	"github.com/techno-hippies/heavengate/internal/dns"
	"github.com/techno-hippies/heavengate/internal/heaven"
	"github.com/techno-hippies/heavengate/internal/rules"
	"github.com/techno-hippies/heavengate/internal/telemetry"
	"github.com/techno-hippies/heavengate/internal/upstream"
	"github.com/techno-hippies/heavengate/internal/users"
)

const blockedTTL = 60

// Handler turns raw DNS request bytes into raw DNS response bytes,
// enforcing the full gateway policy. A nil Heaven disables private-TLD
// interception.
type Handler struct {
	Logger     *slog.Logger
	Users      *users.Cache
	Rules      *rules.Cache
	Heaven     *heaven.Resolver
	Telemetry  *telemetry.Client
	Upstream   string
	HMACSecret string
	Categories *categorize.Map
}

// Handle processes one request from src and returns the raw response bytes
// to send back, or nil if the request could not be parsed at all.
func (h *Handler) Handle(ctx context.Context, src netip.Addr, reqBytes []byte) []byte {
	start := time.Now()

	req, err := dns.ParseRequestBounded(reqBytes)
	if err != nil || len(req.Questions) == 0 {
		return nil
	}
	q := req.Questions[0]
	qname := dns.NormalizeName(q.Name)

	etld1 := categorize.NormalizeDomain(qname)

	var walletID, userID, deviceID string = "unknown", "", ""
	var userFound bool
	if h.Users != nil {
		if cached, ok := h.Users.Lookup(src); ok {
			walletID = cached.WalletAddress
			userID = cached.UserID
			deviceID = cached.DeviceID
			userFound = true
			h.Users.Touch(deviceID, start)
		}
	}

	if h.Heaven != nil {
		if resp, ok := h.Heaven.Handle(ctx, req, qname); ok {
			h.record(walletID, deviceID, etld1, q, "heaven", start)
			return marshal(resp)
		}
	}

	if userFound && h.Rules != nil && h.Rules.IsBlocked(userID, etld1) {
		resp := buildBlockedResponse(req, q)
		h.record(walletID, deviceID, etld1, q, "block", start)
		return marshal(resp)
	}

	respBytes, err := upstream.Forward(h.Upstream, reqBytes)
	if err != nil {
		resp := dns.BuildErrorResponse(req, uint16(dns.RCodeServFail))
		resp.Header.Flags |= dns.RAFlag
		h.record(walletID, deviceID, etld1, q, "error", start)
		return marshal(resp)
	}

	h.record(walletID, deviceID, etld1, q, "allow", start)
	return respBytes
}

func (h *Handler) record(walletID, deviceID, etld1 string, q dns.Question, action string, start time.Time) {
	if h.Telemetry == nil {
		return
	}
	var categoryID *int32
	if h.Categories != nil {
		if cat, ok := h.Categories.Lookup(etld1); ok {
			v := int32(cat)
			categoryID = &v
		}
	}
	h.Telemetry.Enqueue(telemetry.Event{
		Timestamp:  start.UTC(),
		WalletID:   walletID,
		DeviceID:   deviceID,
		ETLD1:      etld1,
		DomainHMAC: telemetry.HashDomain(etld1, h.HMACSecret),
		QType:      qtypeName(q.Type),
		Action:     action,
		CategoryID: categoryID,
		LatencyMS:  uint32(time.Since(start).Milliseconds()),
	})
}

func buildBlockedResponse(req dns.Packet, q dns.Question) dns.Packet {
	resp := dns.BuildErrorResponse(req, uint16(dns.RCodeNoError))
	resp.Header.Flags |= dns.RAFlag
	switch dns.RecordType(q.Type) {
	case dns.TypeA:
		resp.Answers = []dns.Record{{
			Name: q.Name, Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN),
			TTL: blockedTTL, Data: []byte{0, 0, 0, 0},
		}}
	case dns.TypeAAAA:
		resp.Answers = []dns.Record{{
			Name: q.Name, Type: uint16(dns.TypeAAAA), Class: uint16(dns.ClassIN),
			TTL: blockedTTL, Data: make([]byte, 16),
		}}
	default:
		resp.Header.Flags = (resp.Header.Flags &^ dns.RCodeMask) | uint16(dns.RCodeNXDomain)
	}
	return resp
}

func marshal(p dns.Packet) []byte {
	b, err := p.Marshal()
	if err != nil {
		return nil
	}
	return b
}

func qtypeName(t uint16) string {
	switch dns.RecordType(t) {
	case dns.TypeA:
		return "A"
	case dns.TypeAAAA:
		return "AAAA"
	case dns.TypeCNAME:
		return "CNAME"
	case dns.TypeMX:
		return "MX"
	case dns.TypeNS:
		return "NS"
	case dns.TypePTR:
		return "PTR"
	case dns.TypeSOA:
		return "SOA"
	case dns.TypeTXT:
		return "TXT"
	default:
		return "OTHER"
	}
}
