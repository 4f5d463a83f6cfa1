package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultDialTimeout is the timeout for establishing a TCP connection
	// to the membership daemon.
	DefaultDialTimeout = 5 * time.Second

	// DefaultQueryTimeout is the timeout for a complete query.
	DefaultQueryTimeout = 10 * time.Second

	// memberCacheTTL bounds how long cached eligibility/weight answers are
	// served before a fresh daemon query. Weights can change mid-round, so
	// keep this short.
	memberCacheTTL = 30 * time.Second
)

// Client implements WeightOracle and AllocationOracle against an external
// membership daemon over HTTP JSON. Integers travel as decimal strings.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	queryTimeout time.Duration

	mu      sync.RWMutex
	members map[string]memberEntry // identity -> cached answer
}

type memberEntry struct {
	eligible  bool
	weight    uint64
	fetchedAt time.Time
}

// Compile-time interface checks
var (
	_ WeightOracle     = (*Client)(nil)
	_ AllocationOracle = (*Client)(nil)
)

// NewClient creates an oracle client for the daemon at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout: DefaultDialTimeout,
				}).DialContext,
			},
		},
		queryTimeout: DefaultQueryTimeout,
		members:      make(map[string]memberEntry),
	}
}

// SetQueryTimeout configures a custom query timeout. This is primarily
// intended for testing. Pass 0 to keep the current value.
func (c *Client) SetQueryTimeout(d time.Duration) {
	if d > 0 {
		c.queryTimeout = d
	}
}

type memberRequest struct {
	Identity string `json:"identity"`
}

type memberResponse struct {
	Eligible bool   `json:"eligible"`
	Weight   string `json:"weight,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

type emptyRequest struct{}

type memberCountResponse struct {
	Count string `json:"count,omitempty"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type allocationRequest struct {
	Identity   string `json:"identity"`
	ProposalID string `json:"proposal_id"`
}

type allocationResponse struct {
	Amount string `json:"amount,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// doRequest sends an HTTP POST to the daemon and decodes the response into
// result. The full body is read even on errors to enable connection reuse.
func (c *Client) doRequest(endpoint string, reqBody any, result any) error {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to membership daemon: %w", err)
	}
	defer resp.Body.Close()

	bodyData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from membership daemon: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(bodyData, &errResp) == nil && errResp.Error != "" {
			return &OracleError{Code: errResp.Code, Msg: errResp.Error}
		}
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(bodyData))
	}

	if err := json.Unmarshal(bodyData, result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// fetchMember queries the daemon for one identity, refreshing the cache.
func (c *Client) fetchMember(identity string) (memberEntry, error) {
	// Fast path: fresh cache entry
	c.mu.RLock()
	entry, ok := c.members[identity]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) <= memberCacheTTL {
		return entry, nil
	}

	var resp memberResponse
	if err := c.doRequest("/member", memberRequest{Identity: identity}, &resp); err != nil {
		return memberEntry{}, err
	}
	if resp.Error != "" {
		return memberEntry{}, &OracleError{Code: resp.Code, Msg: resp.Error}
	}

	entry = memberEntry{eligible: resp.Eligible, fetchedAt: time.Now()}
	if resp.Eligible {
		if resp.Weight == "" {
			return memberEntry{}, fmt.Errorf("member response missing weight field")
		}
		weight, err := strconv.ParseUint(resp.Weight, 10, 64)
		if err != nil {
			return memberEntry{}, fmt.Errorf("invalid weight value %q: %w", resp.Weight, err)
		}
		entry.weight = weight
	}

	c.mu.Lock()
	c.members[identity] = entry
	c.mu.Unlock()
	return entry, nil
}

// IsEligible reports whether the identity is an eligible member.
func (c *Client) IsEligible(identity string) (bool, error) {
	entry, err := c.fetchMember(identity)
	if err != nil {
		return false, err
	}
	return entry.eligible, nil
}

// WeightOf returns the identity's current voting weight. Ineligible
// identities weigh zero.
func (c *Client) WeightOf(identity string) (uint64, error) {
	entry, err := c.fetchMember(identity)
	if err != nil {
		return 0, err
	}
	return entry.weight, nil
}

// EligibleMemberCount returns the daemon's current eligible-member count.
// Never cached: it feeds a per-round snapshot taken exactly once.
func (c *Client) EligibleMemberCount() (uint64, error) {
	var resp memberCountResponse
	if err := c.doRequest("/member_count", emptyRequest{}, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, &OracleError{Code: resp.Code, Msg: resp.Error}
	}
	if resp.Count == "" {
		return 0, fmt.Errorf("member_count response missing count field")
	}
	count, err := strconv.ParseUint(resp.Count, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count value %q: %w", resp.Count, err)
	}
	return count, nil
}

// AllocatedAmount returns the recorded allocation from an identity toward
// a proposal. Never cached: the engine consults it mid-reveal and a stale
// answer would change tallies.
func (c *Client) AllocatedAmount(identity string, proposalID uint64) (uint64, error) {
	req := allocationRequest{
		Identity:   identity,
		ProposalID: strconv.FormatUint(proposalID, 10),
	}
	var resp allocationResponse
	if err := c.doRequest("/allocation", req, &resp); err != nil {
		return 0, err
	}
	if resp.Error != "" {
		return 0, &OracleError{Code: resp.Code, Msg: resp.Error}
	}
	if resp.Amount == "" {
		return 0, fmt.Errorf("allocation response missing amount field")
	}
	amount, err := strconv.ParseUint(resp.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount value %q: %w", resp.Amount, err)
	}
	return amount, nil
}
