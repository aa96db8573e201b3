// Package rpc implements the abstract network protocol table from
// spec.md §6 over newline-delimited JSON on a TCP (optionally TLS)
// connection, grounded on the teacher's internal/rpc package: a
// Request carries an Operation name, opaque json.RawMessage Args, and
// a Token; a Response carries Success/Data/Error.
package rpc

import "encoding/json"

// Operation names, one per row of the spec's network protocol table.
const (
	OpRequestChallenge     = "request_challenge"
	OpAuthenticate         = "authenticate"
	OpFindNewEntries       = "find_new_entries"
	OpFindNewEntriesForDoc = "find_new_entries_for_doc"
	OpFindEntries          = "find_entries"
	OpGetEntries           = "get_entries"
	OpPutEntries           = "put_entries"
	OpHasEntries           = "has_entries"
	OpGetAllIDs            = "get_all_ids"
	OpResolveDependencies  = "resolve_dependencies"
	OpScanEntriesSince     = "scan_entries_since"
	OpGetIDBloomSummary    = "get_id_bloom_summary"
	OpGetCapabilities      = "get_capabilities"
	OpGetCompactionStatus  = "get_compaction_status"
)

// Request is one line of the wire protocol.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
	Token     string          `json:"token,omitempty"`
}

// Response is one line of the wire protocol, sent back per Request.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	ErrCode string          `json:"err_code,omitempty"` // one of the spec §6 error taxonomy strings
}

// Error taxonomy strings from spec.md §6.
const (
	ErrCodeInvalidToken     = "invalid_token"
	ErrCodeUserRevoked      = "user_revoked"
	ErrCodeInvalidSignature = "invalid_signature"
	ErrCodeChallengeExpired = "challenge_expired"
	ErrCodeChallengeUsed    = "challenge_used"
	ErrCodeUserNotFound     = "user_not_found"
	ErrCodeNetworkError     = "network_error"
	ErrCodeServerError      = "server_error"
)

type requestChallengeArgs struct {
	User     string `json:"user"`
	TenantID string `json:"tenant_id,omitempty"`
	DBID     string `json:"db_id,omitempty"`
}

type requestChallengeResult struct {
	ChallengeID string `json:"challenge_id"`
}

type authenticateArgs struct {
	ChallengeID string `json:"challenge_id"`
	Signature   []byte `json:"signature"`
}

type authenticateResult struct {
	Token string `json:"token"`
}

type findNewEntriesArgs struct {
	KnownIDs []string `json:"known_ids"`
}

type findNewEntriesForDocArgs struct {
	KnownIDs []string `json:"known_ids"`
	DocID    string   `json:"doc_id"`
}

type hasEntriesArgs struct {
	IDs []string `json:"ids"`
}

type getEntriesArgs struct {
	IDs []string `json:"ids"`
}

type putEntriesArgs struct {
	Entries []json.RawMessage `json:"entries"`
}

// Capabilities is the get_capabilities result shape from spec.md §4.5.
type Capabilities struct {
	ProtocolVersion          int  `json:"protocol_version"`
	SupportsCursorScan       bool `json:"supports_cursor_scan"`
	SupportsBloom            bool `json:"supports_bloom"`
	SupportsCompactionStatus bool `json:"supports_compaction_status"`
}

// ProtocolVersion is the current wire protocol revision.
const ProtocolVersion = 1

// DefaultCapabilities reports the full capability set this implementation
// supports; legacy clients that never call get_capabilities fall back to
// the base operations per spec.md §4.5.
func DefaultCapabilities() Capabilities {
	return Capabilities{
		ProtocolVersion:          ProtocolVersion,
		SupportsCursorScan:       true,
		SupportsBloom:            true,
		SupportsCompactionStatus: true,
	}
}
