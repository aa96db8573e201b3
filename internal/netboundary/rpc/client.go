package rpc

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/crypto"
	"github.com/mindoo/mindoo-core/internal/netboundary/auth"
	"github.com/mindoo/mindoo-core/internal/types"
)

// tokenExpiry reads the exp claim out of a token without verifying its
// MAC — the client has no copy of the server's HMAC secret, only the
// server can authoritatively validate a token. This is solely to decide
// when the client's own cache should refresh.
func tokenExpiry(tokenString string) (time.Time, error) {
	var claims auth.Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tokenString, &claims); err != nil {
		return time.Time{}, fmt.Errorf("rpc: parse token expiry: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, fmt.Errorf("rpc: token has no expiry claim")
	}
	return claims.ExpiresAt.Time, nil
}

// ClientConfig bundles a client-side adapter's identity and transport
// settings.
type ClientConfig struct {
	Addr       string
	UserID     string
	TenantID   string
	DBID       string
	SigningKey ed25519.PrivateKey
	Decrypt    *rsa.PrivateKey // user's encryption private key, to unwrap get_entries payloads
	Timeout    time.Duration
	TLSConfig  *tls.Config // nil disables TLS
}

// Client implements cas.Store over the spec.md §6 network protocol,
// maintaining a cached token (refreshed within 60s of expiry per spec.md
// §4.5) and unwrapping each received entry's RSA layer before returning it.
type Client struct {
	cfg ClientConfig

	mu          sync.Mutex
	conn        net.Conn
	token       string
	tokenExpiry time.Time

	capCache     *lru.Cache[string, Capabilities]
	payloadCache *lru.Cache[string, []byte]
}

var _ cas.Store = (*Client)(nil)

// NewClient builds a Client for cfg. The connection is established lazily
// on first use.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	capCache, err := lru.New[string, Capabilities](8)
	if err != nil {
		return nil, fmt.Errorf("rpc: init capability cache: %w", err)
	}
	payloadCache, err := lru.New[string, []byte](4096)
	if err != nil {
		return nil, fmt.Errorf("rpc: init payload cache: %w", err)
	}
	return &Client{cfg: cfg, capCache: capCache, payloadCache: payloadCache}, nil
}

func (c *Client) dial() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	var conn net.Conn
	var err error
	if c.cfg.TLSConfig != nil {
		conn, err = tls.Dial("tcp", c.cfg.Addr, c.cfg.TLSConfig)
	} else {
		conn, err = net.DialTimeout("tcp", c.cfg.Addr, c.cfg.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", c.cfg.Addr, err)
	}
	c.conn = conn
	return conn, nil
}

// Close releases the underlying connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// roundTrip sends req and returns the decoded response, retrying on
// transient network errors with exponential backoff, grounded on the
// teacher's DoltStore.withRetry pattern.
func (c *Client) roundTrip(ctx context.Context, req Request) (Response, error) {
	var resp Response
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.cfg.Timeout * 4

	err := backoff.Retry(func() error {
		conn, err := c.dial()
		if err != nil {
			return err
		}

		deadline := time.Now().Add(c.cfg.Timeout)
		if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
			deadline = dl
		}
		if err := conn.SetDeadline(deadline); err != nil {
			return backoff.Permanent(err)
		}

		data, err := json.Marshal(req)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("rpc: marshal request: %w", err))
		}
		writer := bufio.NewWriter(conn)
		if _, err := writer.Write(data); err != nil {
			c.dropConn()
			return err // transient: retry on a fresh connection
		}
		if err := writer.WriteByte('\n'); err != nil {
			c.dropConn()
			return err
		}
		if err := writer.Flush(); err != nil {
			c.dropConn()
			return err
		}

		line, err := bufio.NewReader(conn).ReadBytes('\n')
		if err != nil {
			c.dropConn()
			return err
		}
		if err := json.Unmarshal(line, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("rpc: decode response: %w", err))
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil {
		return Response{}, fmt.Errorf("rpc: round trip %s: %w", req.Operation, err)
	}
	if !resp.Success {
		return resp, fmt.Errorf("rpc: %s: %s (%s)", req.Operation, resp.Error, resp.ErrCode)
	}
	return resp, nil
}

func (c *Client) dropConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// ensureToken re-authenticates when the cached token is missing or within
// 60s of expiry, per spec.md §4.5.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiry := c.token, c.tokenExpiry
	c.mu.Unlock()
	if token != "" && time.Until(expiry) > 60*time.Second {
		return token, nil
	}

	challengeArgs, _ := json.Marshal(requestChallengeArgs{User: c.cfg.UserID, TenantID: c.cfg.TenantID, DBID: c.cfg.DBID})
	resp, err := c.roundTrip(ctx, Request{Operation: OpRequestChallenge, Args: challengeArgs})
	if err != nil {
		return "", err
	}
	var challengeResult requestChallengeResult
	if err := json.Unmarshal(resp.Data, &challengeResult); err != nil {
		return "", fmt.Errorf("rpc: decode challenge result: %w", err)
	}

	sig := crypto.Sign(c.cfg.SigningKey, []byte(challengeResult.ChallengeID))
	authArgs, _ := json.Marshal(authenticateArgs{ChallengeID: challengeResult.ChallengeID, Signature: sig})
	resp, err = c.roundTrip(ctx, Request{Operation: OpAuthenticate, Args: authArgs})
	if err != nil {
		return "", err
	}
	var authResult authenticateResult
	if err := json.Unmarshal(resp.Data, &authResult); err != nil {
		return "", fmt.Errorf("rpc: decode authenticate result: %w", err)
	}

	exp, err := tokenExpiry(authResult.Token)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = authResult.Token
	c.tokenExpiry = exp
	c.mu.Unlock()
	return authResult.Token, nil
}

// invalidateToken forces re-authentication on the next call, per spec.md
// §7 "authentication failures ... invalidate the cached token".
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// call performs a token-gated operation, invalidating the cached token and
// retrying once if the server reports an auth failure.
func (c *Client) call(ctx context.Context, op string, args any) (Response, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return Response{}, fmt.Errorf("rpc: marshal %s args: %w", op, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return Response{}, err
		}
		resp, err := c.roundTrip(ctx, Request{Operation: op, Args: argsJSON, Token: token})
		if err == nil {
			return resp, nil
		}
		if resp.ErrCode == ErrCodeInvalidToken && attempt == 0 {
			c.invalidateToken()
			continue
		}
		return resp, err
	}
	return Response{}, fmt.Errorf("rpc: %s: exhausted retries", op)
}

// Capabilities fetches and caches the server's capability descriptor.
func (c *Client) Capabilities(ctx context.Context) (Capabilities, error) {
	if caps, ok := c.capCache.Get(c.cfg.Addr); ok {
		return caps, nil
	}
	resp, err := c.call(ctx, OpGetCapabilities, struct{}{})
	if err != nil {
		return Capabilities{}, err
	}
	var caps Capabilities
	if err := json.Unmarshal(resp.Data, &caps); err != nil {
		return Capabilities{}, fmt.Errorf("rpc: decode capabilities: %w", err)
	}
	c.capCache.Add(c.cfg.Addr, caps)
	return caps, nil
}

func (c *Client) PutEntries(ctx context.Context, entries []types.Entry) error {
	raw := make([]json.RawMessage, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("rpc: marshal entry %q: %w", e.ID, err)
		}
		raw = append(raw, data)
	}
	_, err := c.call(ctx, OpPutEntries, putEntriesArgs{Entries: raw})
	return err
}

func (c *Client) GetEntries(ctx context.Context, ids []string) ([]types.Entry, error) {
	resp, err := c.call(ctx, OpGetEntries, getEntriesArgs{IDs: ids})
	if err != nil {
		return nil, err
	}
	var wireEntries []types.NetworkEncryptedEntry
	if err := json.Unmarshal(resp.Data, &wireEntries); err != nil {
		return nil, fmt.Errorf("rpc: decode get_entries result: %w", err)
	}

	entries := make([]types.Entry, 0, len(wireEntries))
	for _, we := range wireEntries {
		if cached, ok := c.payloadCache.Get(we.ID); ok {
			entries = append(entries, types.Entry{EntryMetadata: we.EntryMetadata, EncryptedData: cached})
			continue
		}
		var env crypto.Envelope
		if err := json.Unmarshal(we.WrappedData, &env); err != nil {
			return nil, fmt.Errorf("rpc: decode envelope for %q: %w", we.ID, err)
		}
		plaintext, err := crypto.RSADecryptHybrid(c.cfg.Decrypt, env)
		if err != nil {
			return nil, fmt.Errorf("rpc: unwrap entry %q: %w", we.ID, err)
		}
		c.payloadCache.Add(we.ID, plaintext)
		entries = append(entries, types.Entry{EntryMetadata: we.EntryMetadata, EncryptedData: plaintext})
	}
	return entries, nil
}

func (c *Client) HasEntries(ctx context.Context, ids []string) ([]string, error) {
	resp, err := c.call(ctx, OpHasEntries, hasEntriesArgs{IDs: ids})
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode has_entries result: %w", err)
	}
	return out, nil
}

func (c *Client) GetAllIDs(ctx context.Context) ([]string, error) {
	resp, err := c.call(ctx, OpGetAllIDs, struct{}{})
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode get_all_ids result: %w", err)
	}
	return out, nil
}

func (c *Client) FindNewEntries(ctx context.Context, knownIDs []string) ([]types.EntryMetadata, error) {
	resp, err := c.call(ctx, OpFindNewEntries, findNewEntriesArgs{KnownIDs: knownIDs})
	if err != nil {
		return nil, err
	}
	var out []types.EntryMetadata
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode find_new_entries result: %w", err)
	}
	return out, nil
}

func (c *Client) FindNewEntriesForDoc(ctx context.Context, knownIDs []string, docID string) ([]types.EntryMetadata, error) {
	resp, err := c.call(ctx, OpFindNewEntriesForDoc, findNewEntriesForDocArgs{KnownIDs: knownIDs, DocID: docID})
	if err != nil {
		return nil, err
	}
	var out []types.EntryMetadata
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode find_new_entries_for_doc result: %w", err)
	}
	return out, nil
}

func (c *Client) FindEntries(ctx context.Context, entryType types.EntryType, from, until *int64) ([]types.EntryMetadata, error) {
	args := struct {
		EntryType types.EntryType `json:"entry_type"`
		From      *int64          `json:"from,omitempty"`
		Until     *int64          `json:"until,omitempty"`
	}{EntryType: entryType, From: from, Until: until}
	resp, err := c.call(ctx, OpFindEntries, args)
	if err != nil {
		return nil, err
	}
	var out []types.EntryMetadata
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode find_entries result: %w", err)
	}
	return out, nil
}

func (c *Client) ScanEntriesSince(ctx context.Context, cursor types.Cursor, limit int, filters types.ScanFilters) (types.ScanPage, error) {
	args := struct {
		Cursor  types.Cursor      `json:"cursor"`
		Limit   int               `json:"limit,omitempty"`
		Filters types.ScanFilters `json:"filters,omitempty"`
	}{Cursor: cursor, Limit: limit, Filters: filters}
	resp, err := c.call(ctx, OpScanEntriesSince, args)
	if err != nil {
		return types.ScanPage{}, err
	}
	var page types.ScanPage
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		return types.ScanPage{}, fmt.Errorf("rpc: decode scan_entries_since result: %w", err)
	}
	return page, nil
}

func (c *Client) ResolveDependencies(ctx context.Context, startID string, opts types.DependencyOptions) ([]string, error) {
	args := struct {
		StartID string                  `json:"start_id"`
		Opts    types.DependencyOptions `json:"opts,omitempty"`
	}{StartID: startID, Opts: opts}
	resp, err := c.call(ctx, OpResolveDependencies, args)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return nil, fmt.Errorf("rpc: decode resolve_dependencies result: %w", err)
	}
	return out, nil
}

func (c *Client) GetIDBloomSummary(ctx context.Context) (types.BloomSummary, error) {
	resp, err := c.call(ctx, OpGetIDBloomSummary, struct{}{})
	if err != nil {
		return types.BloomSummary{}, err
	}
	var out types.BloomSummary
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return types.BloomSummary{}, fmt.Errorf("rpc: decode get_id_bloom_summary result: %w", err)
	}
	return out, nil
}

func (c *Client) GetCompactionStatus(ctx context.Context) (types.CompactionStatus, error) {
	resp, err := c.call(ctx, OpGetCompactionStatus, struct{}{})
	if err != nil {
		return types.CompactionStatus{}, err
	}
	var out types.CompactionStatus
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		return types.CompactionStatus{}, fmt.Errorf("rpc: decode get_compaction_status result: %w", err)
	}
	return out, nil
}

// PurgeDocHistory is a local, administrative operation (spec.md §6 omits
// it from the network protocol table) — not available through this
// adapter.
func (c *Client) PurgeDocHistory(ctx context.Context, docID string) error {
	return fmt.Errorf("rpc: purge_doc_history is not exposed over the network boundary")
}

// AwaitIndexReady is a no-op over the network: index warm-up is the
// remote server's concern, not something a client blocks on.
func (c *Client) AwaitIndexReady(ctx context.Context) error {
	return nil
}

// GetIndexBuildStatus is not exposed over the network protocol; the
// client reports itself as always ready.
func (c *Client) GetIndexBuildStatus(ctx context.Context) (types.IndexBuildStatus, error) {
	return types.IndexBuildStatus{Ready: true}, nil
}
