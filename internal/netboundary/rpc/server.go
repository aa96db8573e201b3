package rpc

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/crypto"
	"github.com/mindoo/mindoo-core/internal/directory"
	"github.com/mindoo/mindoo-core/internal/logging"
	"github.com/mindoo/mindoo-core/internal/netboundary/auth"
	"github.com/mindoo/mindoo-core/internal/types"
)

// serverTracer is the OTel tracer for request-level spans. It uses the
// global provider, which is a no-op until internal/metrics.Init runs.
var serverTracer = otel.Tracer("github.com/mindoo/mindoo-core/netboundary/rpc")

// serverMetrics holds the request-count and latency instruments,
// registered against the global delegating provider at init time.
var serverMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

func init() {
	m := otel.Meter("github.com/mindoo/mindoo-core/netboundary/rpc")
	serverMetrics.requestCount, _ = m.Int64Counter("mdb.rpc.request_count",
		metric.WithDescription("Network boundary requests handled, by operation and outcome"),
		metric.WithUnit("{request}"),
	)
	serverMetrics.requestDuration, _ = m.Float64Histogram("mdb.rpc.request_duration_ms",
		metric.WithDescription("Network boundary request handling latency"),
		metric.WithUnit("ms"),
	)
}

// Server fronts a local cas.Store with the authenticated network boundary
// from spec.md §4.5: every token-bearing operation is validated before it
// reaches the store, and get_entries responses are RSA-wrapped per
// recipient before they leave the process.
type Server struct {
	store cas.Store
	auth  *auth.Service
	dir   directory.Directory
	dbID  string
	log   *logging.Logger

	requestTimeout time.Duration

	mu        sync.RWMutex
	tlsConfig *tls.Config
	listener  net.Listener
}

// NewServer builds a Server. dbID is this process's db_id, used to answer
// request_challenge with the right scope and to stamp minted tokens.
func NewServer(store cas.Store, authSvc *auth.Service, dir directory.Directory, dbID string, log *logging.Logger) *Server {
	return &Server{
		store:          store,
		auth:           authSvc,
		dir:            dir,
		dbID:           dbID,
		log:            log,
		requestTimeout: 30 * time.Second,
	}
}

// SetTLSConfig loads a certificate/key pair and enables TLS on subsequent
// Serve calls.
func (s *Server) SetTLSConfig(certFile, keyFile string) error {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return fmt.Errorf("rpc: load TLS certificate: %w", err)
	}
	s.mu.Lock()
	s.tlsConfig = &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	s.mu.Unlock()
	return nil
}

// Serve listens on addr and accepts connections until ctx is canceled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	s.mu.RLock()
	tlsConfig := s.tlsConfig
	s.mu.RUnlock()

	var ln net.Listener
	var err error
	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("rpc: accept: %w", err)
			}
		}
		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.requestTimeout)); err != nil {
			return
		}
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(writer, Response{Success: false, Error: err.Error(), ErrCode: ErrCodeServerError})
			continue
		}

		if err := conn.SetWriteDeadline(time.Now().Add(s.requestTimeout)); err != nil {
			return
		}
		s.writeResponse(writer, s.handleRequestTraced(ctx, &req))
	}
}

// handleRequestTraced wraps handleRequest with a request span and the
// request-count/duration instruments, grounded on the teacher's
// doltTracer/doltMetrics pattern around DoltStore.exec.
func (s *Server) handleRequestTraced(ctx context.Context, req *Request) Response {
	start := time.Now()
	ctx, span := serverTracer.Start(ctx, "rpc."+req.Operation,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("rpc.operation", req.Operation),
			attribute.String("rpc.db_id", s.dbID),
		),
	)
	resp := s.handleRequest(ctx, req)

	outcome := "ok"
	if !resp.Success {
		outcome = resp.ErrCode
		if outcome == "" {
			outcome = "error"
		}
		span.SetStatus(codes.Error, resp.Error)
	}
	span.End()

	attrs := metric.WithAttributes(
		attribute.String("operation", req.Operation),
		attribute.String("outcome", outcome),
	)
	serverMetrics.requestCount.Add(ctx, 1, attrs)
	serverMetrics.requestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	return resp
}

func (s *Server) writeResponse(w *bufio.Writer, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Warnf("rpc: marshal response: %v", err)
		return
	}
	if _, err := w.Write(data); err != nil {
		return
	}
	if err := w.WriteByte('\n'); err != nil {
		return
	}
	_ = w.Flush()
}

func errResponse(code, format string, args ...any) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, args...), ErrCode: code}
}

func dataResponse(v any) Response {
	data, err := json.Marshal(v)
	if err != nil {
		return errResponse(ErrCodeServerError, "marshal result: %v", err)
	}
	return Response{Success: true, Data: data}
}

func (s *Server) handleRequest(ctx context.Context, req *Request) Response {
	switch req.Operation {
	case OpRequestChallenge:
		return s.handleRequestChallenge(ctx, req)
	case OpAuthenticate:
		return s.handleAuthenticate(ctx, req)
	case OpGetCapabilities:
		return dataResponse(DefaultCapabilities())
	}

	claims, err := s.auth.ValidateToken(ctx, req.Token)
	if err != nil {
		return errResponse(ErrCodeInvalidToken, "rpc: %v", err)
	}

	switch req.Operation {
	case OpGetAllIDs:
		return s.handleGetAllIDs(ctx)
	case OpFindNewEntries:
		return s.handleFindNewEntries(ctx, req)
	case OpFindNewEntriesForDoc:
		return s.handleFindNewEntriesForDoc(ctx, req)
	case OpFindEntries:
		return s.handleFindEntries(ctx, req)
	case OpHasEntries:
		return s.handleHasEntries(ctx, req)
	case OpGetEntries:
		return s.handleGetEntries(ctx, req, claims)
	case OpPutEntries:
		return s.handlePutEntries(ctx, req, claims)
	case OpResolveDependencies:
		return s.handleResolveDependencies(ctx, req)
	case OpScanEntriesSince:
		return s.handleScanEntriesSince(ctx, req)
	case OpGetIDBloomSummary:
		return s.handleGetIDBloomSummary(ctx)
	case OpGetCompactionStatus:
		return s.handleGetCompactionStatus(ctx)
	default:
		return errResponse(ErrCodeServerError, "rpc: unknown operation %q", req.Operation)
	}
}

func (s *Server) handleRequestChallenge(ctx context.Context, req *Request) Response {
	var args requestChallengeArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	if args.DBID == "" {
		args.DBID = s.dbID
	}
	challengeID, err := s.auth.GenerateChallenge(ctx, args.User, args.TenantID, args.DBID)
	if err != nil {
		return errResponse(authErrCode(err), "rpc: %v", err)
	}
	return dataResponse(requestChallengeResult{ChallengeID: challengeID})
}

func (s *Server) handleAuthenticate(ctx context.Context, req *Request) Response {
	var args authenticateArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	token, err := s.auth.Authenticate(ctx, args.ChallengeID, args.Signature)
	if err != nil {
		return errResponse(authErrCode(err), "rpc: %v", err)
	}
	return dataResponse(authenticateResult{Token: token})
}

func (s *Server) handleGetAllIDs(ctx context.Context) Response {
	ids, err := s.store.GetAllIDs(ctx)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: get_all_ids: %v", err)
	}
	return dataResponse(ids)
}

func (s *Server) handleFindNewEntries(ctx context.Context, req *Request) Response {
	var args findNewEntriesArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	meta, err := s.store.FindNewEntries(ctx, args.KnownIDs)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: find_new_entries: %v", err)
	}
	return dataResponse(meta)
}

func (s *Server) handleFindNewEntriesForDoc(ctx context.Context, req *Request) Response {
	var args findNewEntriesForDocArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	meta, err := s.store.FindNewEntriesForDoc(ctx, args.KnownIDs, args.DocID)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: find_new_entries_for_doc: %v", err)
	}
	return dataResponse(meta)
}

func (s *Server) handleFindEntries(ctx context.Context, req *Request) Response {
	var args struct {
		EntryType types.EntryType `json:"entry_type"`
		From      *int64          `json:"from,omitempty"`
		Until     *int64          `json:"until,omitempty"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	meta, err := s.store.FindEntries(ctx, args.EntryType, args.From, args.Until)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: find_entries: %v", err)
	}
	return dataResponse(meta)
}

func (s *Server) handleHasEntries(ctx context.Context, req *Request) Response {
	var args hasEntriesArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	ids, err := s.store.HasEntries(ctx, args.IDs)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: has_entries: %v", err)
	}
	return dataResponse(ids)
}

// handleGetEntries fetches entries from the local store, then RSA-wraps
// each payload for claims.Subject per spec.md §4.5 before it leaves the
// process.
func (s *Server) handleGetEntries(ctx context.Context, req *Request, claims auth.Claims) Response {
	var args getEntriesArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	entries, err := s.store.GetEntries(ctx, args.IDs)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: get_entries: %v", err)
	}

	recipientKey, found, err := s.dir.EncryptionPublicKey(ctx, claims.Subject)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: lookup recipient key: %v", err)
	}
	if !found {
		return errResponse(ErrCodeUserNotFound, "rpc: no encryption key on file for %s", claims.Subject)
	}

	wrapped := make([]types.NetworkEncryptedEntry, 0, len(entries))
	for _, e := range entries {
		env, err := crypto.RSAEncryptHybrid(recipientKey, e.EncryptedData)
		if err != nil {
			s.log.Warnf("rpc: wrap entry %q for %s: %v", e.ID, claims.Subject, err)
			continue
		}
		envBytes, err := json.Marshal(env)
		if err != nil {
			s.log.Warnf("rpc: marshal envelope for %q: %v", e.ID, err)
			continue
		}
		wrapped = append(wrapped, types.NetworkEncryptedEntry{
			EntryMetadata: e.EntryMetadata,
			WrappedData:   envBytes,
		})
	}
	return dataResponse(wrapped)
}

// handlePutEntries rejects any entry whose created_by_public_key is not
// the token holder's own trusted signing key before delegating to the
// store, per spec.md §4.5 "any untrusted entry fails the batch".
func (s *Server) handlePutEntries(ctx context.Context, req *Request, claims auth.Claims) Response {
	var args putEntriesArgs
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}

	trustedKey, found, err := s.dir.SigningPublicKey(ctx, claims.Subject)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: lookup signing key: %v", err)
	}
	if !found {
		return errResponse(ErrCodeUserNotFound, "rpc: no signing key on file for %s", claims.Subject)
	}
	trustedB64 := base64StdEncode(trustedKey)

	entries := make([]types.Entry, 0, len(args.Entries))
	for _, raw := range args.Entries {
		var e types.Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return errResponse(ErrCodeServerError, "rpc: decode entry: %v", err)
		}
		if e.CreatedByPublicKey != trustedB64 {
			return errResponse(ErrCodeInvalidSignature, "rpc: entry %q signed by untrusted key", e.ID)
		}
		entries = append(entries, e)
	}

	if err := s.store.PutEntries(ctx, entries); err != nil {
		return errResponse(ErrCodeServerError, "rpc: put_entries: %v", err)
	}
	return Response{Success: true}
}

func (s *Server) handleResolveDependencies(ctx context.Context, req *Request) Response {
	var args struct {
		StartID string                  `json:"start_id"`
		Opts    types.DependencyOptions `json:"opts,omitempty"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	ids, err := s.store.ResolveDependencies(ctx, args.StartID, args.Opts)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: resolve_dependencies: %v", err)
	}
	return dataResponse(ids)
}

func (s *Server) handleScanEntriesSince(ctx context.Context, req *Request) Response {
	var args struct {
		Cursor  types.Cursor      `json:"cursor"`
		Limit   int               `json:"limit,omitempty"`
		Filters types.ScanFilters `json:"filters,omitempty"`
	}
	if err := json.Unmarshal(req.Args, &args); err != nil {
		return errResponse(ErrCodeServerError, "rpc: decode args: %v", err)
	}
	page, err := s.store.ScanEntriesSince(ctx, args.Cursor, args.Limit, args.Filters)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: scan_entries_since: %v", err)
	}
	return dataResponse(page)
}

func (s *Server) handleGetIDBloomSummary(ctx context.Context) Response {
	summary, err := s.store.GetIDBloomSummary(ctx)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: get_id_bloom_summary: %v", err)
	}
	return dataResponse(summary)
}

func (s *Server) handleGetCompactionStatus(ctx context.Context) Response {
	status, err := s.store.GetCompactionStatus(ctx)
	if err != nil {
		return errResponse(ErrCodeServerError, "rpc: get_compaction_status: %v", err)
	}
	return dataResponse(status)
}

// authErrCode maps an auth package sentinel error to the spec's wire error
// taxonomy.
func authErrCode(err error) string {
	switch {
	case errors.Is(err, types.ErrUserRevoked):
		return ErrCodeUserRevoked
	case errors.Is(err, types.ErrUserNotFound):
		return ErrCodeUserNotFound
	case errors.Is(err, types.ErrChallengeExpired):
		return ErrCodeChallengeExpired
	case errors.Is(err, types.ErrChallengeUsed):
		return ErrCodeChallengeUsed
	case errors.Is(err, types.ErrChallengeNotFound):
		return ErrCodeServerError
	case errors.Is(err, types.ErrInvalidSignature):
		return ErrCodeInvalidSignature
	default:
		return ErrCodeServerError
	}
}

func base64StdEncode(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}
