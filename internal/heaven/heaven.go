// Package heaven implements the private-TLD resolver: it answers queries
// under a single configured label (e.g. "heaven") by consulting an external
// HTTP naming service, caching positive and negative results, and
// coalescing concurrent lookups for the same label.
package heaven

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/techno-hippies/heavengate/internal/dns"
	"github.com/techno-hippies/heavengate/internal/resolvers"
)

// Status is the resolution status reported by the naming service.
type Status int

const (
	StatusUnregistered Status = iota
	StatusActive
	StatusExpired
	StatusReserved
)

// Record is a cached resolution result for one label.
type Record struct {
	Status      Status
	A           []string
	TXT         []string
	TTLPositive uint32
	TTLNegative uint32
}

// Classification of a query name against the configured private TLD.
type classification int

const (
	notOurs classification = iota
	apex
	singleLabel
	multiLabel
)

// Resolver answers queries under the configured private TLD.
type Resolver struct {
	tld        string // e.g. "heaven", no leading dot
	apiURL     string
	bearer     string
	gatewayIP  string
	httpClient *http.Client
	logger     *slog.Logger

	cache    *resolvers.TTLCache[string, *Record]
	inflight singleflight.Group

	// lastNegativeTTL remembers the most recently observed negative TTL so
	// that a cache-miss-but-no-lookup path (there isn't one currently, but a
	// future SOA-without-a-fresh-lookup caller might need it) has a sane
	// fallback; primarily documents intent from the spec's "or the last
	// cached value" clause.
	lastNegativeTTL uint32
}

// Config configures a Resolver.
type Config struct {
	PrivateTLD string
	APIURL     string
	Bearer     string
	GatewayIP  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New constructs a Resolver. If cfg.APIURL is empty the resolver still
// works but every single-label lookup will fail (callers are expected to
// only construct a Resolver when the private TLD feature is configured).
func New(cfg Config) *Resolver {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{} // spec: no explicit timeout beyond the HTTP client's default
	}
	return &Resolver{
		tld:             cfg.PrivateTLD,
		apiURL:          cfg.APIURL,
		bearer:          cfg.Bearer,
		gatewayIP:       cfg.GatewayIP,
		httpClient:      client,
		logger:          cfg.Logger,
		cache:           resolvers.NewTTLCache[string, *Record](100_000),
		lastNegativeTTL: 300,
	}
}

func (r *Resolver) classify(qname string) (classification, string) {
	if qname == r.tld {
		return apex, ""
	}
	suffix := "." + r.tld
	if len(qname) <= len(suffix) || qname[len(qname)-len(suffix):] != suffix {
		return notOurs, ""
	}
	rest := qname[:len(qname)-len(suffix)]
	if rest == "" {
		return apex, ""
	}
	label := rest
	for i := 0; i < len(rest); i++ {
		if rest[i] == '.' {
			return multiLabel, ""
		}
	}
	return singleLabel, label
}

// Handle attempts to answer req under the private TLD. ok is false when the
// query name is not under the configured TLD at all, in which case the
// caller should fall through to the upstream resolver.
func (r *Resolver) Handle(ctx context.Context, req dns.Packet, qname string) (dns.Packet, bool) {
	class, label := r.classify(qname)
	switch class {
	case notOurs:
		return dns.Packet{}, false
	case apex:
		return r.buildApex(req), true
	case multiLabel:
		// Multi-label names under the private TLD never exist; this is a
		// fixed, no-lookup negative answer, so it doesn't use the
		// last-observed cache TTL.
		return r.buildNXDOMAIN(req, 60), true
	default:
		return r.handleSingleLabel(ctx, req, label), true
	}
}

func (r *Resolver) handleSingleLabel(ctx context.Context, req dns.Packet, label string) dns.Packet {
	if rec, ok, _ := r.cache.Get(label); ok {
		return r.buildResponse(req, rec)
	}

	v, err, _ := r.inflight.Do(label, func() (any, error) {
		// Re-check the cache: another goroutine may have populated it while
		// we waited to become the singleflight leader.
		if rec, ok, _ := r.cache.Get(label); ok {
			return rec, nil
		}
		return r.fetchAndCache(ctx, label)
	})
	if err != nil {
		if r.logger != nil {
			r.logger.Warn("heaven lookup failed", "label", label, "err", err)
		}
		return r.buildServfail(req)
	}

	rec, _ := v.(*Record)
	return r.buildResponse(req, rec)
}

func (r *Resolver) fetchAndCache(ctx context.Context, label string) (*Record, error) {
	rec, err := r.fetch(ctx, label)
	if err != nil {
		return nil, err
	}

	if rec.Status == StatusActive && len(rec.A) == 0 {
		rec.A = []string{r.gatewayIP}
	}

	var ttl uint32
	var entryType resolvers.CacheEntryType
	if rec.Status == StatusActive {
		ttl = rec.TTLPositive
		entryType = resolvers.CachePositive
	} else {
		ttl = rec.TTLNegative
		entryType = resolvers.CacheNXDOMAIN
		r.lastNegativeTTL = rec.TTLNegative
	}
	r.cache.Set(label, rec, time.Duration(ttl)*time.Second, entryType)

	return rec, nil
}

type apiResponse struct {
	Status  string `json:"status"`
	Records struct {
		A    []string `json:"A"`
		AAAA []string `json:"AAAA"`
		TXT  []string `json:"TXT"`
	} `json:"records"`
	TTLPositive uint32 `json:"ttl_positive"`
	TTLNegative uint32 `json:"ttl_negative"`
}

func (r *Resolver) fetch(ctx context.Context, label string) (*Record, error) {
	u := fmt.Sprintf("%s/api/names/dns/resolve?label=%s&tld=%s",
		r.apiURL, url.QueryEscape(label), url.QueryEscape(r.tld))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if r.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.bearer)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("heaven API returned status %d", resp.StatusCode)
	}

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed heaven API response: %w", err)
	}

	rec := &Record{
		A:           body.Records.A,
		TXT:         body.Records.TXT,
		TTLPositive: body.TTLPositive,
		TTLNegative: body.TTLNegative,
	}
	switch body.Status {
	case "active":
		rec.Status = StatusActive
	case "expired":
		rec.Status = StatusExpired
	case "reserved":
		rec.Status = StatusReserved
	default:
		rec.Status = StatusUnregistered
	}
	return rec, nil
}

// --- response builders ---

func baseResponse(req dns.Packet) dns.Packet {
	resp := dns.Packet{
		Header: dns.Header{
			ID: req.Header.ID,
		},
		Questions: req.Questions,
	}
	flags := uint16(dns.QRFlag) | dns.RAFlag
	if req.Header.Flags&dns.RDFlag != 0 {
		flags |= dns.RDFlag
	}
	resp.Header.Flags = flags
	// Echo the request's EDNS OPT record, if present, so the client sees the
	// same UDP payload size / DO flag it advertised.
	for _, rr := range req.Additionals {
		if rr.Type == uint16(dns.TypeOPT) {
			resp.Additionals = append(resp.Additionals, rr)
			break
		}
	}
	return resp
}

func (r *Resolver) buildApex(req dns.Packet) dns.Packet {
	resp := baseResponse(req)
	q := req.Questions[0]
	if dns.RecordType(q.Type) == dns.TypeA || q.Type == 255 { // 255 = ANY
		if ip := net.ParseIP(r.gatewayIP).To4(); ip != nil {
			resp.Answers = []dns.Record{{
				Name: q.Name, Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN),
				TTL: 3600, Data: []byte(ip),
			}}
		}
	}
	return resp
}

func (r *Resolver) buildResponse(req dns.Packet, rec *Record) dns.Packet {
	if rec == nil || rec.Status != StatusActive {
		ttl := r.lastNegativeTTL
		if rec != nil {
			ttl = rec.TTLNegative
		}
		return r.buildNXDOMAIN(req, ttl)
	}

	resp := baseResponse(req)
	q := req.Questions[0]
	var answers []dns.Record

	if dns.RecordType(q.Type) == dns.TypeA || q.Type == 255 {
		for _, a := range rec.A {
			ip := net.ParseIP(a).To4()
			if ip == nil {
				continue
			}
			answers = append(answers, dns.Record{
				Name: q.Name, Type: uint16(dns.TypeA), Class: uint16(dns.ClassIN),
				TTL: rec.TTLPositive, Data: []byte(ip),
			})
		}
	}
	if dns.RecordType(q.Type) == dns.TypeTXT || q.Type == 255 {
		for _, txt := range rec.TXT {
			answers = append(answers, dns.Record{
				Name: q.Name, Type: uint16(dns.TypeTXT), Class: uint16(dns.ClassIN),
				TTL: rec.TTLPositive, Data: txt,
			})
		}
	}
	resp.Answers = answers
	return resp
}

func (r *Resolver) buildNXDOMAIN(req dns.Packet, negativeTTL uint32) dns.Packet {
	resp := baseResponse(req)
	resp.Header.Flags = (resp.Header.Flags &^ dns.RCodeMask) | uint16(dns.RCodeNXDomain)

	soaData, err := buildSOAData(
		r.tld+".", "hostmaster."+r.tld+".",
		1, 3600, 600, 604800, negativeTTL,
	)
	if err == nil {
		resp.Authorities = []dns.Record{{
			Name: r.tld + ".", Type: uint16(dns.TypeSOA), Class: uint16(dns.ClassIN),
			TTL: negativeTTL, Data: soaData,
		}}
	}
	return resp
}

func (r *Resolver) buildServfail(req dns.Packet) dns.Packet {
	resp := baseResponse(req)
	resp.Header.Flags = (resp.Header.Flags &^ dns.RCodeMask) | uint16(dns.RCodeServFail)
	return resp
}

func buildSOAData(mname, rname string, serial, refresh, retry, expire, minimum uint32) ([]byte, error) {
	mwire, err := dns.EncodeName(mname)
	if err != nil {
		return nil, err
	}
	rwire, err := dns.EncodeName(rname)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(mwire)+len(rwire)+20)
	out = append(out, mwire...)
	out = append(out, rwire...)
	tail := make([]byte, 20)
	binary.BigEndian.PutUint32(tail[0:4], serial)
	binary.BigEndian.PutUint32(tail[4:8], refresh)
	binary.BigEndian.PutUint32(tail[8:12], retry)
	binary.BigEndian.PutUint32(tail[12:16], expire)
	binary.BigEndian.PutUint32(tail[16:20], minimum)
	out = append(out, tail...)
	return out, nil
}
