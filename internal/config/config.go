// Package config loads server and client configuration from a single
// TOML file, grounded on the teacher's internal/formula.Parser use of
// github.com/BurntSushi/toml for structured config files.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Server holds every setting internal/netboundary needs to run the
// authenticated network boundary and the durability layer it fronts.
type Server struct {
	Listen string `toml:"listen"` // host:port the RPC server binds

	// DBID identifies the single database this daemon process hosts.
	DBID string `toml:"db_id"`

	// BaseDir is the diskstore base directory; the store for DBID lives
	// at BaseDir/DBID.
	BaseDir string `toml:"base_dir"`

	// DirectoryFile is the path to the JSON user directory this daemon
	// trusts (see internal/directory.LoadFile).
	DirectoryFile string `toml:"directory_file"`

	// JWTSecret is the process-local HMAC key used to mint and validate
	// tokens. Its raw bytes are the key, with no decoding, and its length
	// is not checked; caller provides it pre-generated (this package never
	// invents one).
	JWTSecret string `toml:"jwt_secret"`

	// ChallengeTTLSeconds is how long an issued challenge remains valid.
	// Defaults to 300 (5 minutes) per spec.md §4.5.
	ChallengeTTLSeconds int `toml:"challenge_ttl_seconds"`

	// TokenTTLSeconds is how long a minted token remains valid.
	TokenTTLSeconds int `toml:"token_ttl_seconds"`

	// CompactionMinFiles / CompactionMaxBytes forward to diskstore.Config.
	CompactionMinFiles int   `toml:"compaction_min_files"`
	CompactionMaxBytes int64 `toml:"compaction_max_bytes"`

	// TLSCertFile / TLSKeyFile, when both set, enable TLS on Listen.
	TLSCertFile string `toml:"tls_cert_file"`
	TLSKeyFile  string `toml:"tls_key_file"`
}

// ChallengeTTL returns the configured challenge lifetime, or the spec
// default of 5 minutes when unset.
func (s Server) ChallengeTTL() time.Duration {
	if s.ChallengeTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(s.ChallengeTTLSeconds) * time.Second
}

// TokenTTL returns the configured token lifetime, or a 1-hour default.
func (s Server) TokenTTL() time.Duration {
	if s.TokenTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(s.TokenTTLSeconds) * time.Second
}

// TLSEnabled reports whether both certificate and key paths are set.
func (s Server) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// Client holds every setting a client-side network adapter needs.
type Client struct {
	ServerAddr string `toml:"server_addr"`
	UserID     string `toml:"user_id"`
	TenantID   string `toml:"tenant_id"`
	DBID       string `toml:"db_id"`

	// SigningKeyFile / DecryptKeyFile point at the PEM-encoded ed25519
	// private key and RSA private key mdbctl signs challenges and
	// unwraps get_entries payloads with.
	SigningKeyFile string `toml:"signing_key_file"`
	DecryptKeyFile string `toml:"decrypt_key_file"`

	// LocalDir is the diskstore base directory for the local replica
	// mdbctl syncs against.
	LocalDir string `toml:"local_dir"`

	// RequestTimeoutSeconds bounds a single RPC round-trip.
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`

	// TLSInsecureSkipVerify is for local development against a
	// self-signed server certificate only; never set in production.
	TLSInsecureSkipVerify bool `toml:"tls_insecure_skip_verify"`
}

// RequestTimeout returns the configured per-request timeout, or 30s.
func (c Client) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// File is the top-level shape of a config.toml: a server section, a
// client section, or both (a single binary may run either role).
type File struct {
	Server Server `toml:"server"`
	Client Client `toml:"client"`
}

// Load reads and parses a TOML config file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}
