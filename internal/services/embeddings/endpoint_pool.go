package embeddings

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

const (
	defaultRateLimitCooldown = 60 * time.Second
	failureCooldown          = 90 * time.Second
	failureThreshold         = 3
)

// ErrAllEndpointsUnavailable is returned when every endpoint in the
// pool is cooling down.
var ErrAllEndpointsUnavailable = fmt.Errorf("all embedding endpoints are unavailable")

// Endpoint is one embedding backend in the failover pool.
type Endpoint struct {
	Name       string
	URL        string
	APIKey     string
	APIVersion string
	UseV1      bool

	consecutiveFailures int
	unavailableUntil    time.Time
}

// endpointRecord is the JSON shape of one configured endpoint.
type endpointRecord struct {
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	APIVersion string `json:"api_version,omitempty"`
	UseV1      bool   `json:"use_v1,omitempty"`
}

// EndpointPool serves embedding requests from the current endpoint
// until it rate limits or repeatedly fails, then advances to the next
// available one.
type EndpointPool struct {
	mu        sync.Mutex
	endpoints []*Endpoint
	cursor    int
	logger    arbor.ILogger
}

// NewEndpointPool loads the endpoint list by priority: a JSON endpoints
// file, then the CODEWIKI_EMBEDDING_HA variable (JSON array or a
// comma-separated url|key list), then numbered environment variables,
// then the single default endpoint.
func NewEndpointPool(endpointsFile, defaultURL, defaultKey string, logger arbor.ILogger) (*EndpointPool, error) {
	endpoints := loadEndpointsFile(endpointsFile, logger)
	if len(endpoints) == 0 {
		endpoints = parseEndpointList(os.Getenv("CODEWIKI_EMBEDDING_HA"))
	}
	if len(endpoints) == 0 {
		endpoints = loadNumberedEndpoints()
	}
	if len(endpoints) == 0 && defaultURL != "" {
		endpoints = []*Endpoint{{Name: "default", URL: defaultURL, APIKey: defaultKey}}
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no embedding endpoints configured")
	}

	logger.Info().Int("endpoints", len(endpoints)).Msg("Embedding endpoint pool initialized")
	return &EndpointPool{endpoints: endpoints, logger: logger}, nil
}

func loadEndpointsFile(path string, logger arbor.ILogger) []*Endpoint {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn().Str("path", path).Err(err).Msg("Cannot read embedding endpoints file")
		return nil
	}

	endpoints, err := parseEndpointJSON(data)
	if err != nil {
		logger.Warn().Str("path", path).Err(err).Msg("Malformed embedding endpoints file")
		return nil
	}
	return endpoints
}

// parseEndpointJSON reads a JSON array of endpoint records.
func parseEndpointJSON(data []byte) ([]*Endpoint, error) {
	var records []endpointRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse endpoint records: %w", err)
	}

	var endpoints []*Endpoint
	for i, record := range records {
		if record.Endpoint == "" {
			continue
		}
		name := record.Name
		if name == "" {
			name = fmt.Sprintf("endpoint-%d", i+1)
		}
		endpoints = append(endpoints, &Endpoint{
			Name:       name,
			URL:        record.Endpoint,
			APIKey:     record.APIKey,
			APIVersion: record.APIVersion,
			UseV1:      record.UseV1,
		})
	}
	return endpoints, nil
}

// parseEndpointList accepts either a JSON array of endpoint records or
// a comma-separated list of url|key entries.
func parseEndpointList(raw string) []*Endpoint {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		endpoints, err := parseEndpointJSON([]byte(raw))
		if err != nil {
			return nil
		}
		return endpoints
	}

	var endpoints []*Endpoint
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		endpoints = append(endpoints, parseEndpointEntry(entry))
	}
	return endpoints
}

// parseEndpointEntry reads "url|key" or a bare URL.
func parseEndpointEntry(entry string) *Endpoint {
	url, key, found := strings.Cut(entry, "|")
	if !found {
		return &Endpoint{Name: entry, URL: strings.TrimSpace(entry)}
	}
	url = strings.TrimSpace(url)
	return &Endpoint{Name: url, URL: url, APIKey: strings.TrimSpace(key)}
}

// loadNumberedEndpoints reads CODEWIKI_EMBEDDING_URL_1.. and the
// matching CODEWIKI_EMBEDDING_KEY_N variables until a gap.
func loadNumberedEndpoints() []*Endpoint {
	var endpoints []*Endpoint
	for i := 1; ; i++ {
		url := os.Getenv(fmt.Sprintf("CODEWIKI_EMBEDDING_URL_%d", i))
		if url == "" {
			break
		}
		endpoints = append(endpoints, &Endpoint{
			Name:   fmt.Sprintf("endpoint-%d", i),
			URL:    url,
			APIKey: os.Getenv(fmt.Sprintf("CODEWIKI_EMBEDDING_KEY_%d", i)),
		})
	}
	return endpoints
}

// Size returns the number of pooled endpoints.
func (p *EndpointPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.endpoints)
}

// Next returns the active endpoint. The pool sticks to the current
// endpoint while it is healthy; a circular scan past cooling endpoints
// happens only when the current one is unavailable.
func (p *EndpointPool) Next() (*Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.endpoints); i++ {
		index := (p.cursor + i) % len(p.endpoints)
		endpoint := p.endpoints[index]
		if now.After(endpoint.unavailableUntil) {
			p.cursor = index
			return endpoint, nil
		}
	}
	return nil, ErrAllEndpointsUnavailable
}

// ReportSuccess clears an endpoint's failure count.
func (p *EndpointPool) ReportSuccess(endpoint *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	endpoint.consecutiveFailures = 0
}

// ReportRateLimit parks an endpoint for the server's Retry-After, or
// 60 seconds when the header is missing, and advances the selection.
func (p *EndpointPool) ReportRateLimit(endpoint *Endpoint, resp *http.Response) {
	cooldown := defaultRateLimitCooldown
	if resp != nil {
		if after, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && after > 0 {
			cooldown = time.Duration(after) * time.Second
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	endpoint.unavailableUntil = time.Now().Add(cooldown)
	p.advanceFrom(endpoint)
	p.logger.Warn().Str("endpoint", endpoint.Name).Dur("cooldown", cooldown).Msg("Embedding endpoint rate limited")
}

// ReportFailure counts a transport or server failure. Three in a row
// park the endpoint for 90 seconds and advance the selection.
func (p *EndpointPool) ReportFailure(endpoint *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	endpoint.consecutiveFailures++
	if endpoint.consecutiveFailures >= failureThreshold {
		endpoint.unavailableUntil = time.Now().Add(failureCooldown)
		endpoint.consecutiveFailures = 0
		p.advanceFrom(endpoint)
		p.logger.Warn().Str("endpoint", endpoint.Name).Msg("Embedding endpoint parked after repeated failures")
	}
}

// advanceFrom moves the cursor past a parked endpoint. Callers hold the
// lock.
func (p *EndpointPool) advanceFrom(endpoint *Endpoint) {
	if p.endpoints[p.cursor] == endpoint {
		p.cursor = (p.cursor + 1) % len(p.endpoints)
	}
}

// AttemptBudget caps a single request's failover attempts at twice the
// pool size.
func (p *EndpointPool) AttemptBudget() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return 2 * len(p.endpoints)
}
