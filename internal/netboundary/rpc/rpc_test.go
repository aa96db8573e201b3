package rpc

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/crypto"
	"github.com/mindoo/mindoo-core/internal/directory"
	"github.com/mindoo/mindoo-core/internal/idgen"
	"github.com/mindoo/mindoo-core/internal/netboundary/auth"
	"github.com/mindoo/mindoo-core/internal/types"
)

type testFixture struct {
	client    *Client
	server    *Server
	store     cas.Store
	signingKP crypto.SigningKeyPair
}

func newTestFixture(t *testing.T) testFixture {
	t.Helper()

	signingKP, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	dir := directory.NewFake()
	dir.Put("alice", directory.User{SigningKey: signingKP.Public, EncryptionKey: &rsaKey.PublicKey})

	store := cas.NewMemory(nil)
	authSvc := auth.NewService(dir, []byte("rpc-test-jwt-secret-32-bytes-long!!"), time.Minute, time.Hour, nil)
	server := NewServer(store, authSvc, dir, "db1", nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Serve(ctx, addr) }()
	time.Sleep(20 * time.Millisecond)

	client, err := NewClient(ClientConfig{
		Addr:       addr,
		UserID:     "alice",
		TenantID:   "tenant1",
		DBID:       "db1",
		SigningKey: signingKP.Private,
		Decrypt:    rsaKey,
		Timeout:    2 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return testFixture{client: client, server: server, store: store, signingKP: signingKP}
}

func sampleEntry(t *testing.T, kp crypto.SigningKeyPair, id, docID string, ts int64, plaintext string) types.Entry {
	t.Helper()
	data := []byte(plaintext)
	sig := crypto.Sign(kp.Private, data)
	return types.Entry{
		EntryMetadata: types.EntryMetadata{
			EntryType:          types.EntryDocCreate,
			ID:                 id,
			ContentHash:        idgen.ContentHash(data),
			DocID:              docID,
			CreatedAt:          ts,
			CreatedByPublicKey: base64StdEncode(kp.Public),
			Signature:          sig,
			OriginalSize:       int64(len(data)),
			EncryptedSize:      int64(len(data)),
		},
		EncryptedData: data,
	}
}

func TestPutThenGetEntriesRoundTrips(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t)

	entry := sampleEntry(t, f.signingKP, "id1", "doc1", 1000, "hello world")

	require.NoError(t, f.client.PutEntries(ctx, []types.Entry{entry}))

	got, err := f.client.GetEntries(ctx, []string{"id1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "id1", got[0].ID)
	assert.Equal(t, []byte("hello world"), got[0].EncryptedData)
}

func TestPutEntriesRejectsUntrustedSigner(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t)

	untrusted, err := crypto.GenerateSigningKeyPair()
	require.NoError(t, err)
	entry := sampleEntry(t, untrusted, "id1", "doc1", 1000, "hello")

	err = f.client.PutEntries(ctx, []types.Entry{entry})
	require.Error(t, err)
}

func TestGetAllIDsAndHasEntries(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t)

	entry := sampleEntry(t, f.signingKP, "id1", "doc1", 1000, "hello")
	require.NoError(t, f.client.PutEntries(ctx, []types.Entry{entry}))

	ids, err := f.client.GetAllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"id1"}, ids)

	present, err := f.client.HasEntries(ctx, []string{"id1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"id1"}, present)
}

func TestFindNewEntries(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t)

	e1 := sampleEntry(t, f.signingKP, "id1", "doc1", 1000, "a")
	e2 := sampleEntry(t, f.signingKP, "id2", "doc1", 2000, "b")
	require.NoError(t, f.client.PutEntries(ctx, []types.Entry{e1, e2}))

	meta, err := f.client.FindNewEntries(ctx, []string{"id1"})
	require.NoError(t, err)
	require.Len(t, meta, 1)
	assert.Equal(t, "id2", meta[0].ID)
}

func TestGetCapabilities(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t)

	caps, err := f.client.Capabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProtocolVersion, caps.ProtocolVersion)
	assert.True(t, caps.SupportsCursorScan)
	assert.True(t, caps.SupportsBloom)
}

func TestPurgeDocHistoryNotExposedOverNetwork(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(t)
	err := f.client.PurgeDocHistory(ctx, "doc1")
	require.Error(t, err)
}
