// Command mdbctl is the operator CLI for a single mindoo-core database
// replica: it inspects the local on-disk CAS, drives pull/push sync
// against a remote mdbd over internal/netboundary/rpc, and generates the
// ed25519/RSA key material a directory entry needs.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mindoo/mindoo-core/internal/cas"
	"github.com/mindoo/mindoo-core/internal/config"
	"github.com/mindoo/mindoo-core/internal/crypto"
	"github.com/mindoo/mindoo-core/internal/diskstore"
	"github.com/mindoo/mindoo-core/internal/logging"
	"github.com/mindoo/mindoo-core/internal/netboundary/rpc"
	"github.com/mindoo/mindoo-core/internal/syncengine"
)

var (
	configPath  string
	remotesPath string
	remoteName  string
)

var rootCmd = &cobra.Command{
	Use:   "mdbctl",
	Short: "mdbctl - mindoo-core database replica CLI",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "mdbctl.toml", "path to client config file")
	rootCmd.PersistentFlags().StringVar(&remotesPath, "remotes-file", "remotes.yaml", "path to the named-remotes registry")
	rootCmd.AddCommand(keygenCmd, pullCmd, pushCmd, idsCmd, doctorCmd, remoteCmd)

	pullCmd.Flags().StringVar(&remoteName, "remote", "", "named remote from the registry, overriding [client] server_addr/db_id")
	pushCmd.Flags().StringVar(&remoteName, "remote", "", "named remote from the registry, overriding [client] server_addr/db_id")
}

// --- remote registry ---

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "manage the named-remotes registry (remotes.yaml)",
}

var remoteAddCmd = &cobra.Command{
	Use:   "add <name> <server_addr> <db_id>",
	Short: "register a named remote",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := config.LoadRemotesFile(remotesPath)
		if err != nil {
			return err
		}
		rf.Put(args[0], config.Remote{ServerAddr: args[1], DBID: args[2]})
		return rf.Save(remotesPath)
	},
}

var remoteRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "unregister a named remote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := config.LoadRemotesFile(remotesPath)
		if err != nil {
			return err
		}
		if err := rf.Remove(args[0]); err != nil {
			return err
		}
		return rf.Save(remotesPath)
	},
}

var remoteListCmd = &cobra.Command{
	Use:   "list",
	Short: "list registered remotes",
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := config.LoadRemotesFile(remotesPath)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(rf.Remotes))
		for name := range rf.Remotes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := rf.Remotes[name]
			fmt.Printf("%s\t%s\t%s\n", name, r.ServerAddr, r.DBID)
		}
		return nil
	},
}

func init() {
	remoteCmd.AddCommand(remoteAddCmd, remoteRemoveCmd, remoteListCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mdbctl:", err)
		os.Exit(1)
	}
}

// --- keygen ---

var keygenOutDir string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "generate a signing and encryption keypair",
	Long:  `Writes signing.pem and decrypt.pem to --out and prints the base64 public keys a directory.json entry needs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		signingKP, err := crypto.GenerateSigningKeyPair()
		if err != nil {
			return fmt.Errorf("generate signing keypair: %w", err)
		}
		rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return fmt.Errorf("generate rsa keypair: %w", err)
		}

		if err := os.MkdirAll(keygenOutDir, 0o755); err != nil {
			return err
		}
		signingPath := filepath.Join(keygenOutDir, "signing.pem")
		decryptPath := filepath.Join(keygenOutDir, "decrypt.pem")
		if err := writePrivateKeyPEM(signingPath, signingKP.Private); err != nil {
			return err
		}
		if err := writePrivateKeyPEM(decryptPath, rsaKey); err != nil {
			return err
		}

		pubDER, err := x509.MarshalPKIXPublicKey(&rsaKey.PublicKey)
		if err != nil {
			return err
		}

		fmt.Printf("signing key:    %s\n", signingPath)
		fmt.Printf("decrypt key:    %s\n", decryptPath)
		fmt.Printf("signing_public_key:    %s\n", base64.StdEncoding.EncodeToString(signingKP.Public))
		fmt.Printf("encryption_public_key: %s\n", base64.StdEncoding.EncodeToString(pubDER))
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOutDir, "out", ".", "directory to write key files into")
}

func writePrivateKeyPEM(path string, key any) error {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	// nolint:gosec // key material; caller is responsible for filesystem permissions of --out
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

func readSigningKeyPEM(path string) (ed25519.PrivateKey, error) {
	key, err := readPrivateKeyPEM(path)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an ed25519 private key", path)
	}
	return priv, nil
}

func readDecryptKeyPEM(path string) (*rsa.PrivateKey, error) {
	key, err := readPrivateKeyPEM(path)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%s: not an RSA private key", path)
	}
	return priv, nil
}

func readPrivateKeyPEM(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: no PEM block found", path)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return key, nil
}

// --- shared setup ---

func openLocalStore(cfg config.Client, log *logging.Logger) (cas.Store, func() error, error) {
	if cfg.LocalDir == "" {
		return nil, nil, fmt.Errorf("config: [client] local_dir is required")
	}
	store, err := diskstore.Open(diskstore.Config{BaseDir: cfg.LocalDir}, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	return store, store.Close, nil
}

func dialRemote(cfg config.Client) (*rpc.Client, error) {
	if cfg.ServerAddr == "" {
		return nil, fmt.Errorf("config: [client] server_addr is required")
	}
	signingKey, err := readSigningKeyPEM(cfg.SigningKeyFile)
	if err != nil {
		return nil, err
	}
	decryptKey, err := readDecryptKeyPEM(cfg.DecryptKeyFile)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(rpc.ClientConfig{
		Addr:       cfg.ServerAddr,
		UserID:     cfg.UserID,
		TenantID:   cfg.TenantID,
		DBID:       cfg.DBID,
		SigningKey: signingKey,
		Decrypt:    decryptKey,
		Timeout:    cfg.RequestTimeout(),
	})
}

// --- pull / push ---

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "fetch entries the remote has that the local replica lacks",
	RunE:  runSync(syncDirectionPull),
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "send entries the local replica has that the remote lacks",
	RunE:  runSync(syncDirectionPush),
}

type syncDirection int

const (
	syncDirectionPull syncDirection = iota
	syncDirectionPush
)

func runSync(dir syncDirection) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		log := logging.NewFromEnv("MDBCTL_DEBUG")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		if remoteName != "" {
			rf, err := config.LoadRemotesFile(remotesPath)
			if err != nil {
				return err
			}
			r, err := rf.Get(remoteName)
			if err != nil {
				return err
			}
			cfg.Client.ServerAddr = r.ServerAddr
			cfg.Client.DBID = r.DBID
		}

		local, closeLocal, err := openLocalStore(cfg.Client, log)
		if err != nil {
			return err
		}
		defer closeLocal()

		remote, err := dialRemote(cfg.Client)
		if err != nil {
			return err
		}
		defer remote.Close()

		ctx := context.Background()
		engine := syncengine.New(log)

		var result syncengine.Result
		if dir == syncDirectionPull {
			result, err = engine.Pull(ctx, local, cfg.Client.DBID, remote, cfg.Client.DBID, syncengine.Options{FetchConcurrency: 4})
		} else {
			result, err = engine.Push(ctx, local, cfg.Client.DBID, remote, cfg.Client.DBID, syncengine.Options{FetchConcurrency: 4})
		}
		if err != nil {
			return err
		}

		fmt.Printf("fetched %d entries, %d failed\n", len(result.FetchedIDs), len(result.FailedIDs))
		for _, e := range result.Errors {
			fmt.Fprintln(os.Stderr, e)
		}
		return nil
	}
}

// --- ids ---

var idsCmd = &cobra.Command{
	Use:   "ids",
	Short: "list every entry id in the local replica",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.NewFromEnv("MDBCTL_DEBUG")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		local, closeLocal, err := openLocalStore(cfg.Client, log)
		if err != nil {
			return err
		}
		defer closeLocal()

		ids, err := local.GetAllIDs(context.Background())
		if err != nil {
			return err
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

// --- doctor ---

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "report local replica health",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logging.NewFromEnv("MDBCTL_DEBUG")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		local, closeLocal, err := openLocalStore(cfg.Client, log)
		if err != nil {
			return err
		}
		defer closeLocal()

		ctx := context.Background()
		ids, err := local.GetAllIDs(ctx)
		if err != nil {
			return err
		}
		status, err := local.GetCompactionStatus(ctx)
		if err != nil {
			return err
		}
		bloomSummary, err := local.GetIDBloomSummary(ctx)
		if err != nil {
			return err
		}
		buildStatus, err := local.GetIndexBuildStatus(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("entries:           %d\n", len(ids))
		fmt.Printf("index ready:       %v\n", buildStatus.Ready)
		fmt.Printf("bloom total ids:   %d\n", bloomSummary.TotalIDs)
		fmt.Printf("pending segments:  %d\n", status.PendingSegments)
		fmt.Printf("pending bytes:     %d\n", status.PendingBytes)
		return nil
	},
}
