package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	debugpkg "runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/stratum-tools/sv2-template-provider/internal/chain"
	"github.com/stratum-tools/sv2-template-provider/internal/config"
	"github.com/stratum-tools/sv2-template-provider/internal/noise"
	"github.com/stratum-tools/sv2-template-provider/internal/obslog"
	"github.com/stratum-tools/sv2-template-provider/internal/provider"
)

func main() {
	// Top-level panic handler: capture any unexpected panic to panic.log
	// with a stack trace so operators can inspect it after the fact.
	defer func() {
		if r := recover(); r != nil {
			if f, err := os.OpenFile("panic.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				defer f.Close()
				ts := time.Now().UTC().Format(time.RFC3339)
				fmt.Fprintf(f, "[%s] panic: %v\n%s\n\n", ts, r, debugpkg.Stack())
			}
			panic(r)
		}
	}()

	cfgPathFlag := flag.String("config", "", "path to template-provider.toml (defaults under the data dir)")
	listenFlag := flag.String("listen", "", "override listen address (e.g. :8442)")
	rpcURLFlag := flag.String("rpc-url", "", "override bitcoind RPC URL")
	rpcCookieFlag := flag.String("rpc-cookie", "", "override bitcoind RPC cookie file path")
	dataDirFlag := flag.String("data-dir", "", "override data directory")
	rewriteConfigFlag := flag.Bool("rewrite-config", false, "rewrite the config file with effective settings on startup")
	stdoutFlag := flag.Bool("stdout", false, "mirror logs to stdout")
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	dataDir := strings.TrimSpace(*dataDirFlag)
	cfgPath := strings.TrimSpace(*cfgPathFlag)

	cfg, err := loadEffectiveConfig(cfgPath, dataDir)
	if err != nil {
		fatal("config", err)
	}
	if v := strings.TrimSpace(*listenFlag); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(*rpcURLFlag); v != "" {
		cfg.RPCURL = v
	}
	if v := strings.TrimSpace(*rpcCookieFlag); v != "" {
		cfg.RPCCookiePath = v
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	if err := ensureKeyMaterial(&cfg); err != nil {
		fatal("key material", err)
	}

	if cfgPath == "" {
		cfgPath = filepath.Join(cfg.DataDir, "template-provider.toml")
	}
	if *rewriteConfigFlag {
		if err := config.Save(cfgPath, cfg); err != nil {
			fatal("rewrite config", err)
		}
	}
	if err := config.EnsureExampleFile(cfg.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: write example config: %v\n", err)
	}

	log := obslog.New()
	if *debugFlag {
		log.SetLevel(obslog.LevelDebug)
	}
	logPath := filepath.Join(cfg.LogDir, "template-provider.log")
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		fatal("create log dir", err)
	}
	log.Configure(obslog.NewRollingFileWriter(logPath), obslog.NewRollingFileWriter(logPath), *stdoutFlag)
	defer log.Stop()

	staticKey, err := decodeKey(cfg.StaticKeyHex)
	if err != nil {
		fatal("parse static key", err)
	}
	cert, err := decodeOrBuildCertificate(cfg, staticKey)
	if err != nil {
		fatal("certificate", err)
	}
	now := uint32(time.Now().Unix())
	if now < cert.ValidFrom || now > cert.ValidTo {
		fatal("certificate", fmt.Errorf("certificate not valid now (window [%d,%d], now=%d)", cert.ValidFrom, cert.ValidTo, now))
	}

	chainSrc := buildChainSource(cfg)

	provCfg := provider.Config{
		ListenAddr:       cfg.ListenAddr,
		ProtocolVersion:  cfg.ProtocolVersion,
		OptionalFeatures: cfg.OptionalFeatures,
		MinimumFeeDelta:  cfg.MinimumFeeDelta,
		RefreshInterval:  time.Duration(cfg.TemplateRefreshIntervalSeconds) * time.Second,
		MaxBlockWeight:   config.MaxBlockWeight,
		ExtranonceLen:    8,
		CoinbaseTag:      "/sv2tp/",
		StaticKey:        staticKey,
		Cert:             cert,
	}
	p := provider.New(provCfg, chainSrc, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting template provider", "listen_addr", cfg.ListenAddr, "rpc_url", cfg.RPCURL)
	if err := p.Run(ctx); err != nil && err != context.Canceled {
		log.Error("provider exited with error", "error", err)
	}
	log.Info("shutdown complete")
}

func loadEffectiveConfig(cfgPath, dataDirOverride string) (config.Config, error) {
	if cfgPath != "" {
		return config.Load(cfgPath)
	}
	def := config.Default()
	dataDir := dataDirOverride
	if dataDir == "" {
		dataDir = def.DataDir
	}
	return config.Load(filepath.Join(dataDir, "template-provider.toml"))
}

// ensureKeyMaterial provisions a static key and a self-signing authority
// key on first run, mirroring how a standalone deployment (no separate
// certificate authority) bootstraps its own Noise identity.
func ensureKeyMaterial(cfg *config.Config) error {
	if strings.TrimSpace(cfg.StaticKeyHex) == "" {
		priv, err := noise.GenerateStaticKey()
		if err != nil {
			return fmt.Errorf("generate static key: %w", err)
		}
		cfg.StaticKeyHex = hex.EncodeToString(priv.Serialize())
	}
	if strings.TrimSpace(cfg.AuthorityKeyHex) == "" {
		priv, err := noise.GenerateStaticKey()
		if err != nil {
			return fmt.Errorf("generate authority key: %w", err)
		}
		cfg.AuthorityKeyHex = hex.EncodeToString(priv.Serialize())
	}
	if cfg.CertValidTo == 0 {
		cfg.CertValidTo = 0xFFFFFFFF
	}
	return nil
}

func decodeKey(hexKey string) (*btcec.PrivateKey, error) {
	raw, err := config.DecodeHexKey32(hexKey)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(raw[:])
	return priv, nil
}

func decodeOrBuildCertificate(cfg config.Config, staticKey *btcec.PrivateKey) (noise.Certificate, error) {
	authorityKey, err := decodeKey(cfg.AuthorityKeyHex)
	if err != nil {
		return noise.Certificate{}, fmt.Errorf("parse authority key: %w", err)
	}
	return noise.SignCertificate(authorityKey, cfg.ProtocolVersion, cfg.CertValidFrom, cfg.CertValidTo, noise.XOnly(staticKey.PubKey()))
}

func buildChainSource(cfg config.Config) chain.Source {
	user, pass := cfg.RPCUser, cfg.RPCPass
	if strings.TrimSpace(cfg.RPCCookiePath) != "" {
		if cookieUser, cookiePass, err := readRPCCookie(cfg.RPCCookiePath); err == nil {
			user, pass = cookieUser, cookiePass
		}
	}
	rpcClient := chain.NewRPCClient(cfg.RPCURL, user, pass)
	return chain.NewRPCSource(rpcClient, 2*time.Second)
}

// readRPCCookie reads bitcoind's auth cookie file, formatted as "user:pass"
// on a single line, the way config_rpc.go's cookie autodetection does.
func readRPCCookie(path string) (user, pass string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed rpc cookie file %s", path)
	}
	return parts[0], parts[1], nil
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
