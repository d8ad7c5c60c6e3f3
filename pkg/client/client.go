// Package client provides the Go SDK for the Attestia accountability
// ledger API: entry submission, verification, export, and node registry
// management.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// APIError is returned when the server responds with a non-2xx status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Entry is the ledger entry record returned by the API.
type Entry struct {
	ID           string    `json:"id"`
	EntryType    string    `json:"entry_type"`
	NodeID       *string   `json:"node_id,omitempty"`
	Payload      string    `json:"payload"`
	Signature    string    `json:"signature,omitempty"`
	PreviousHash string    `json:"previous_hash"`
	Hash         string    `json:"hash"`
	BlockNumber  int64     `json:"block_number"`
	Timestamp    time.Time `json:"timestamp"`
	Verified     bool      `json:"verified"`
}

// SubmitResult holds the identifying fields of a newly appended entry.
type SubmitResult struct {
	ID          string `json:"id"`
	Hash        string `json:"hash"`
	BlockNumber int64  `json:"block_number"`
	Verified    bool   `json:"verified"`
}

// Overview is the chain summary returned by GET /api/v1/ledger.
type Overview struct {
	Entries    int64       `json:"entries"`
	TipHash    string      `json:"tip_hash,omitempty"`
	TipBlock   int64       `json:"tip_block"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// VerificationResult reports an entry's integrity.
type VerificationResult struct {
	BlockNumber  int64  `json:"block_number"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
	HashValid    bool   `json:"hash_valid"`
	ChainValid   bool   `json:"chain_valid"`
	OverallValid bool   `json:"overall_valid"`
}

// AuditResult is the outcome of a full-chain replay.
type AuditResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Checkpoint is a root-hash anchor over the verified chain.
type Checkpoint struct {
	ID         string    `json:"id"`
	RootHash   string    `json:"root_hash"`
	BlockCount int64     `json:"block_count"`
	ComputedAt time.Time `json:"computed_at"`
}

// Node is an accountability node record.
type Node struct {
	ID           string     `json:"id"`
	OrgName      string     `json:"org_name"`
	Country      string     `json:"country"`
	OrgType      string     `json:"org_type"`
	Jurisdiction string     `json:"jurisdiction"`
	ContactEmail string     `json:"contact_email"`
	PublicKey    string     `json:"public_key"`
	APIEndpoint  string     `json:"api_endpoint"`
	Status       string     `json:"status"`
	LastActiveAt *time.Time `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// RegisterNodeRequest is the payload for RegisterNode.
type RegisterNodeRequest struct {
	OrgName      string `json:"org_name"`
	Country      string `json:"country"`
	OrgType      string `json:"org_type"`
	Jurisdiction string `json:"jurisdiction"`
	ContactEmail string `json:"contact_email"`
	PublicKey    string `json:"public_key"`
	APIEndpoint  string `json:"api_endpoint"`
}

// RegisterNodeResult holds the created node and its one-time API key.
type RegisterNodeResult struct {
	Node   Node   `json:"node"`
	APIKey string `json:"api_key"`
}

// Client is the Attestia SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client

	mu          sync.Mutex
	bearerToken string
	apiKey      string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithBearerToken attaches a user session token to every request.
func WithBearerToken(token string) Option {
	return func(c *Client) error {
		c.bearerToken = token
		return nil
	}
}

// WithAPIKey attaches a node API key to every request. Used by node
// software submitting entries.
func WithAPIKey(key string) Option {
	return func(c *Client) error {
		c.apiKey = key
		return nil
	}
}

// New creates a new Client connected to base, e.g.
//
//	c, err := client.New("https://ledger.example.org",
//	    client.WithAPIKey(os.Getenv("ATTESTIA_API_KEY")),
//	)
func New(base string, opts ...Option) (*Client, error) {
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// SetBearerToken replaces the session token used for subsequent requests.
func (c *Client) SetBearerToken(token string) {
	c.mu.Lock()
	c.bearerToken = token
	c.mu.Unlock()
}

// Login authenticates with email/password and stores the session token on
// the client for subsequent calls. Returns the raw token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/login",
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return "", err
	}
	c.SetBearerToken(resp.Token)
	return resp.Token, nil
}

// OperatorToken exchanges the static admin secret for an operator session
// token and stores it on the client. Standalone deployments only.
func (c *Client) OperatorToken(ctx context.Context, secret string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/auth/operator-token",
		map[string]string{"secret": secret}, &resp)
	if err != nil {
		return "", err
	}
	c.SetBearerToken(resp.Token)
	return resp.Token, nil
}

// SubmitEntry appends a new entry to the chain. payload is JSON-encoded;
// signature may be empty for unsigned submissions.
func (c *Client) SubmitEntry(ctx context.Context, entryType string, payload any, signature string) (*SubmitResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	body := map[string]any{
		"entry_type": entryType,
		"payload":    json.RawMessage(raw),
	}
	if signature != "" {
		body["signature"] = signature
	}

	var result SubmitResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/ledger/entries", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Overview fetches the chain summary.
func (c *Client) Overview(ctx context.Context) (*Overview, error) {
	var o Overview
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger", nil, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetEntryByBlock fetches a single entry by block number.
func (c *Client) GetEntryByBlock(ctx context.Context, block int64) (*Entry, error) {
	var e Entry
	path := "/api/v1/ledger/entries/" + strconv.FormatInt(block, 10)
	if err := c.call(ctx, http.MethodGet, path, nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntryByID fetches a single entry by its UUID.
func (c *Client) GetEntryByID(ctx context.Context, id string) (*Entry, error) {
	var e Entry
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/entries/id/"+url.PathEscape(id), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// VerifyEntry recomputes an entry's digest server-side and checks its chain
// link.
func (c *Client) VerifyEntry(ctx context.Context, id string) (*VerificationResult, error) {
	var r VerificationResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/verify/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Audit replays the full chain from genesis.
func (c *Client) Audit(ctx context.Context) (*AuditResult, error) {
	var r AuditResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/audit", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Export streams a ledger snapshot in the given format ("json" or "csv")
// into w.
func (c *Client) Export(ctx context.Context, format string, w io.Writer) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/ledger/export?format="+url.QueryEscape(format), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("export request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &APIError{Status: resp.StatusCode, Message: apiMessage(body)}
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("stream export: %w", err)
	}
	return nil
}

// Anchor triggers a root-hash checkpoint. Operator-only.
func (c *Client) Anchor(ctx context.Context) (*Checkpoint, error) {
	var cp Checkpoint
	if err := c.call(ctx, http.MethodPost, "/api/v1/ledger/anchor", nil, &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// Checkpoints fetches the checkpoint history.
func (c *Client) Checkpoints(ctx context.Context) ([]Checkpoint, error) {
	var resp struct {
		Checkpoints []Checkpoint `json:"checkpoints"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/ledger/checkpoints", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Checkpoints, nil
}

// RegisterNode registers a new accountability node. The returned API key is
// shown only once.
func (c *Client) RegisterNode(ctx context.Context, req RegisterNodeRequest) (*RegisterNodeResult, error) {
	var result RegisterNodeResult
	if err := c.call(ctx, http.MethodPost, "/api/v1/nodes", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListNodes fetches all registered nodes, optionally filtered by status.
// Operator-only.
func (c *Client) ListNodes(ctx context.Context, status string) ([]Node, error) {
	path := "/api/v1/nodes"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Nodes []Node `json:"nodes"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// GetNode fetches one node with its recent activity. Operator-only.
func (c *Client) GetNode(ctx context.Context, id string) (*Node, error) {
	var resp struct {
		Node Node `json:"node"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/nodes/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Node, nil
}

// VerifyNode submits the operator decision for a pending node.
func (c *Client) VerifyNode(ctx context.Context, id string, approve bool) (*Node, error) {
	var resp struct {
		Node Node `json:"node"`
	}
	err := c.call(ctx, http.MethodPost, "/api/v1/nodes/"+url.PathEscape(id)+"/verify",
		map[string]bool{"approve": approve}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Node, nil
}

// call performs a JSON request/response round trip against the API.
func (c *Client) call(ctx context.Context, method, path string, reqBody, respBody any) error {
	var bodyReader io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader)
	if err != nil {
		return err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: apiMessage(body)}
	}

	if respBody != nil && len(body) > 0 {
		if err := json.Unmarshal(body, respBody); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	c.mu.Lock()
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	c.mu.Unlock()
	return req, nil
}

// apiMessage extracts the server's error field, falling back to the raw body.
func apiMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return string(body)
}
