package main

import (
	"os"
	"testing"
)

func clearRelayerEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "BACKEND", "REDIS_URL", "FEE", "MOCK_PROVER", "RELAYER_DATADIR",
		"EVM_RPC_URL", "EVM_POOL_ADDRESS", "EVM_TOKEN_ADDRESS", "EVM_SK",
		"NEAR_RPC_URL", "NEAR_ARCHIVE_RPC_URL", "NEAR_POOL_ADDRESS",
		"NEAR_RELAYER_ACCOUNT_ID", "NEAR_SK",
		"WAVES_NODE_URL", "WAVES_POOL_ADDRESS", "WAVES_SEED", "WAVES_PROFILE",
	}
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadConfigRequiresRedisURL(t *testing.T) {
	clearRelayerEnv(t)
	if _, err := LoadConfig(); err != ErrMissingRedisURL {
		t.Fatalf("LoadConfig() error = %v, want ErrMissingRedisURL", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearRelayerEnv(t)
	os.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Backend != "mock" {
		t.Errorf("Backend = %q, want mock", cfg.Backend)
	}
	if cfg.Fee != 0 {
		t.Errorf("Fee = %d, want 0", cfg.Fee)
	}
	if cfg.MockProver {
		t.Errorf("MockProver = true, want false")
	}
}

func TestLoadConfigParsesFeeAndMockProver(t *testing.T) {
	clearRelayerEnv(t)
	os.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	os.Setenv("FEE", "1000")
	os.Setenv("MOCK_PROVER", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Fee != 1000 {
		t.Errorf("Fee = %d, want 1000", cfg.Fee)
	}
	if !cfg.MockProver {
		t.Errorf("MockProver = false, want true")
	}
}

func TestLoadConfigRejectsInvalidFee(t *testing.T) {
	clearRelayerEnv(t)
	os.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	os.Setenv("FEE", "not-a-number")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("LoadConfig() error = nil, want error for invalid FEE")
	}
}

func TestLoadConfigEVMFields(t *testing.T) {
	clearRelayerEnv(t)
	os.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	os.Setenv("BACKEND", "evm")
	os.Setenv("EVM_RPC_URL", "http://localhost:8545")
	os.Setenv("EVM_POOL_ADDRESS", "0xabc")
	os.Setenv("EVM_TOKEN_ADDRESS", "0xdef")
	os.Setenv("EVM_SK", "0x01")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.EVM.RPCURL != "http://localhost:8545" {
		t.Errorf("EVM.RPCURL = %q, want http://localhost:8545", cfg.EVM.RPCURL)
	}
	if cfg.EVM.PoolAddress != "0xabc" {
		t.Errorf("EVM.PoolAddress = %q, want 0xabc", cfg.EVM.PoolAddress)
	}
}

func TestWavesChainIDDefaultsToTestnet(t *testing.T) {
	if got := wavesChainID(""); got != 'T' {
		t.Errorf("wavesChainID(\"\") = %c, want T", got)
	}
	if got := wavesChainID("mainnet"); got != 'W' {
		t.Errorf("wavesChainID(mainnet) = %c, want W", got)
	}
	if got := wavesChainID("stagenet"); got != 'S' {
		t.Errorf("wavesChainID(stagenet) = %c, want S", got)
	}
}
