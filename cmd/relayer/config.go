package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/zeropool/relayer/pool/backend"
)

// Configuration errors.
var (
	ErrMissingRedisURL = errors.New("REDIS_URL is required")
	ErrUnknownBackend  = errors.New("unknown BACKEND")
)

// Config aggregates the relayer's environment variables into a single
// structure, grouped the way cmd/eth2028's ApplyEnvironment groups node
// config: one block of os.Getenv reads per concern. NEAR_NETWORK and
// NEAR_TOKEN_ID are not read.
type Config struct {
	Port       string
	Backend    string
	RedisURL   string
	Fee        uint64
	MockProver bool

	EVM  backend.EVMConfig
	NEAR backend.NEARConfig
	// Waves.NodeURL is read from WAVES_NODE_URL, an addition beyond
	// spec.md §6's WAVES_SEED/WAVES_PROFILE/WAVES_POOL_ADDRESS -- the
	// adapter also needs a node endpoint.
	Waves backend.WavesConfig

	DataDir string
}

// LoadConfig reads Config from the process environment. Unlike
// cmd/eth2028's ApplyEnvironment (which overlays env vars on top of
// flag/file defaults), the relayer has no flag or file layer -- spec.md
// §6 names environment variables as the only configuration surface -- so
// this reads directly into a fresh Config.
func LoadConfig() (Config, error) {
	cfg := Config{
		Port:     getenv("PORT", "8080"),
		Backend:  getenv("BACKEND", "mock"),
		RedisURL: os.Getenv("REDIS_URL"),
		DataDir:  getenv("RELAYER_DATADIR", "./data"),
	}

	if v := os.Getenv("FEE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid FEE: %w", err)
		}
		cfg.Fee = n
	}
	if v := os.Getenv("MOCK_PROVER"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid MOCK_PROVER: %w", err)
		}
		cfg.MockProver = b
	}

	cfg.EVM = backend.EVMConfig{
		RPCURL:       os.Getenv("EVM_RPC_URL"),
		PoolAddress:  os.Getenv("EVM_POOL_ADDRESS"),
		TokenAddress: os.Getenv("EVM_TOKEN_ADDRESS"),
		SigningKey:   os.Getenv("EVM_SK"),
	}

	cfg.NEAR = backend.NEARConfig{
		RPCURL:         os.Getenv("NEAR_RPC_URL"),
		ArchiveRPCURL:  os.Getenv("NEAR_ARCHIVE_RPC_URL"),
		PoolAddress:    os.Getenv("NEAR_POOL_ADDRESS"),
		RelayerAccount: os.Getenv("NEAR_RELAYER_ACCOUNT_ID"),
		SigningKey:     os.Getenv("NEAR_SK"),
	}

	cfg.Waves = backend.WavesConfig{
		NodeURL:     os.Getenv("WAVES_NODE_URL"),
		PoolAddress: os.Getenv("WAVES_POOL_ADDRESS"),
		SigningKey:  os.Getenv("WAVES_SEED"),
		ChainID:     wavesChainID(os.Getenv("WAVES_PROFILE")),
	}

	if cfg.RedisURL == "" {
		return cfg, ErrMissingRedisURL
	}

	return cfg, nil
}

// wavesChainID maps a WAVES_PROFILE name to the single-byte chain id the
// Waves node protocol embeds in every address and signed transaction.
// Unrecognized or empty profiles default to testnet, matching the
// adapter's own safe-default posture elsewhere (e.g. NewMock's zeroed
// pool index).
func wavesChainID(profile string) byte {
	switch profile {
	case "mainnet":
		return 'W'
	case "stagenet":
		return 'S'
	default:
		return 'T'
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
