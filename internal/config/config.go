// Package config loads and persists the Template Provider's on-disk
// configuration, following the teacher's TOML file-config pattern
// (config.go/config_examples.go/config_rpc.go): a typed in-memory Config,
// a separate serializable fileConfig, and an example-file writer.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/pelletier/go-toml"
)

// Defaults named after spec.md §6/§4.7's DEFAULT_SV2_* constants.
const (
	DefaultSv2Interval  = 5 // seconds
	DefaultSv2FeeDelta  = int64(1000)
	MaxBlockWeight      = uint64(4_000_000)
)

// Config is the Template Provider's resolved runtime configuration.
type Config struct {
	// Network
	ListenAddr string // e.g. ":8442"

	// sv2 protocol negotiation
	ProtocolVersion                        uint16
	OptionalFeatures                       uint32
	DefaultCoinbaseTxAdditionalOutputSize  uint32
	DefaultFutureTemplates                 bool

	// Template scheduler
	MinimumFeeDelta                 int64
	TemplateRefreshIntervalSeconds  uint64

	// Noise key material. StaticKeyHex is this process's long-term secret.
	// AuthorityKeyHex is set when this process signs its own certificate
	// (a standalone responder); AuthorityPubKeyHex is set when verifying a
	// certificate signed by someone else (an initiator-role deployment).
	StaticKeyHex       string
	AuthorityKeyHex    string
	AuthorityPubKeyHex string
	CertValidFrom      uint32
	CertValidTo        uint32

	// Chain collaborator (RPC-backed Source)
	RPCURL        string
	RPCUser       string
	RPCPass       string
	RPCCookiePath string

	// Logging
	LogDir    string
	LogToFile bool

	DataDir string
}

// Default returns the configuration the teacher's defaultConfig() would
// hand back before any file or flag overrides are applied.
func Default() Config {
	return Config{
		ListenAddr:                             ":8442",
		ProtocolVersion:                        2,
		OptionalFeatures:                       0,
		DefaultCoinbaseTxAdditionalOutputSize:  0,
		DefaultFutureTemplates:                 true,
		MinimumFeeDelta:                        DefaultSv2FeeDelta,
		TemplateRefreshIntervalSeconds:         DefaultSv2Interval,
		CertValidFrom:                          0,
		CertValidTo:                            0xFFFFFFFF,
		RPCURL:                                 "http://127.0.0.1:8332",
		DataDir:                                defaultDataDir(),
		LogDir:                                 filepath.Join(defaultDataDir(), "logs"),
	}
}

// defaultDataDir asks btcutil for the OS-appropriate application data
// directory, the same helper config_rpc.go uses to locate btcd's own
// cookie file.
func defaultDataDir() string {
	return btcutil.AppDataDir("sv2tp", false)
}

// fileConfig is the on-disk TOML shape, kept distinct from Config so
// renaming Go fields doesn't silently rename the file format, matching the
// teacher's buildBaseFileConfig/applyFileConfig split.
type fileConfig struct {
	ListenAddr                             string `toml:"listen_addr"`
	ProtocolVersion                        uint16 `toml:"protocol_version"`
	OptionalFeatures                       uint32 `toml:"optional_features"`
	DefaultCoinbaseTxAdditionalOutputSize  uint32 `toml:"default_coinbase_tx_additional_output_size"`
	DefaultFutureTemplates                 bool   `toml:"default_future_templates"`
	MinimumFeeDelta                        int64  `toml:"minimum_fee_delta"`
	TemplateRefreshIntervalSeconds         uint64 `toml:"template_refresh_interval_seconds"`
	StaticKeyHex                           string `toml:"static_key"`
	AuthorityKeyHex                        string `toml:"authority_key"`
	AuthorityPubKeyHex                     string `toml:"authority_pubkey"`
	CertValidFrom                          uint32 `toml:"cert_valid_from"`
	CertValidTo                            uint32 `toml:"cert_valid_to"`
	RPCURL                                 string `toml:"rpc_url"`
	RPCUser                                string `toml:"rpc_user"`
	RPCCookiePath                          string `toml:"rpc_cookie_path"`
	LogDir                                 string `toml:"log_dir"`
	LogToFile                              bool   `toml:"log_to_file"`
	DataDir                                string `toml:"data_dir"`
}

func toFileConfig(cfg Config) fileConfig {
	return fileConfig{
		ListenAddr:                            cfg.ListenAddr,
		ProtocolVersion:                       cfg.ProtocolVersion,
		OptionalFeatures:                      cfg.OptionalFeatures,
		DefaultCoinbaseTxAdditionalOutputSize:  cfg.DefaultCoinbaseTxAdditionalOutputSize,
		DefaultFutureTemplates:                 cfg.DefaultFutureTemplates,
		MinimumFeeDelta:                        cfg.MinimumFeeDelta,
		TemplateRefreshIntervalSeconds:         cfg.TemplateRefreshIntervalSeconds,
		StaticKeyHex:                           cfg.StaticKeyHex,
		AuthorityKeyHex:                        cfg.AuthorityKeyHex,
		AuthorityPubKeyHex:                     cfg.AuthorityPubKeyHex,
		CertValidFrom:                          cfg.CertValidFrom,
		CertValidTo:                            cfg.CertValidTo,
		RPCURL:                                 cfg.RPCURL,
		RPCUser:                                cfg.RPCUser,
		RPCCookiePath:                          cfg.RPCCookiePath,
		LogDir:                                 cfg.LogDir,
		LogToFile:                              cfg.LogToFile,
		DataDir:                                cfg.DataDir,
	}
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.ProtocolVersion != 0 {
		cfg.ProtocolVersion = fc.ProtocolVersion
	}
	cfg.OptionalFeatures = fc.OptionalFeatures
	cfg.DefaultCoinbaseTxAdditionalOutputSize = fc.DefaultCoinbaseTxAdditionalOutputSize
	cfg.DefaultFutureTemplates = fc.DefaultFutureTemplates
	if fc.MinimumFeeDelta != 0 {
		cfg.MinimumFeeDelta = fc.MinimumFeeDelta
	}
	if fc.TemplateRefreshIntervalSeconds != 0 {
		cfg.TemplateRefreshIntervalSeconds = fc.TemplateRefreshIntervalSeconds
	}
	if fc.StaticKeyHex != "" {
		cfg.StaticKeyHex = fc.StaticKeyHex
	}
	if fc.AuthorityKeyHex != "" {
		cfg.AuthorityKeyHex = fc.AuthorityKeyHex
	}
	if fc.AuthorityPubKeyHex != "" {
		cfg.AuthorityPubKeyHex = fc.AuthorityPubKeyHex
	}
	if fc.CertValidFrom != 0 {
		cfg.CertValidFrom = fc.CertValidFrom
	}
	if fc.CertValidTo != 0 {
		cfg.CertValidTo = fc.CertValidTo
	}
	if fc.RPCURL != "" {
		cfg.RPCURL = fc.RPCURL
	}
	if fc.RPCUser != "" {
		cfg.RPCUser = fc.RPCUser
	}
	if fc.RPCCookiePath != "" {
		cfg.RPCCookiePath = fc.RPCCookiePath
	}
	if fc.LogDir != "" {
		cfg.LogDir = fc.LogDir
	}
	cfg.LogToFile = fc.LogToFile
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
}

// Load reads path if it exists, overlaying it onto Default(). A missing
// file is not an error — the caller runs on defaults and can write one out
// with Save or EnsureExampleFile.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	applyFileConfig(&cfg, fc)
	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename), matching the
// teacher's rewriteConfigFile.
func Save(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	data, err := toml.Marshal(toFileConfig(cfg))
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("config: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("config: rename into place: %w", err)
	}
	return nil
}

// EnsureExampleFile writes a commented template-provider.toml.example into
// dataDir/config/examples on first run, the same way ensureExampleFiles
// seeds the teacher's config directory.
func EnsureExampleFile(dataDir string) error {
	if dataDir == "" {
		dataDir = defaultDataDir()
	}
	examplesDir := filepath.Join(dataDir, "config", "examples")
	examplePath := filepath.Join(examplesDir, "template-provider.toml.example")
	if _, err := os.Stat(examplePath); err == nil {
		return nil
	}
	if err := os.MkdirAll(examplesDir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", examplesDir, err)
	}
	cfg := Default()
	cfg.StaticKeyHex = "REPLACE_WITH_32_BYTE_HEX_STATIC_KEY"
	cfg.AuthorityKeyHex = "REPLACE_WITH_32_BYTE_HEX_AUTHORITY_KEY"
	data, err := toml.Marshal(toFileConfig(cfg))
	if err != nil {
		return fmt.Errorf("config: encode example: %w", err)
	}
	header := []byte(fmt.Sprintf("# Generated %s example (copy to a real config and edit as needed)\n\n", time.Now().UTC().Format(time.RFC3339)))
	return os.WriteFile(examplePath, append(header, data...), 0o644)
}

// DecodeHexKey32 parses a 32-byte hex-encoded secret (static or authority
// key material).
func DecodeHexKey32(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("config: invalid hex key: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("config: key must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
