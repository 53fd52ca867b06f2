package chains

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/archon-research/stl/stl-balances/internal/domain/entity"
)

func TestDefault(t *testing.T) {
	entries, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	byCode := map[string]Entry{}
	for _, e := range entries {
		byCode[e.Chain.Code] = e
	}
	for _, code := range []string{"ETH", "BSC", "MATIC", "AVAX", "OP", "ARB", "SOL", "KDA"} {
		e, ok := byCode[code]
		if !ok {
			t.Errorf("missing chain %s", code)
			continue
		}
		if !e.Chain.IsActive {
			t.Errorf("%s should be active", code)
		}
	}

	kda := byCode["KDA"]
	if kda.Chain.Family != entity.FamilyKadena || len(kda.Chain.Ledgers) != 20 || !kda.Chain.IsMultiLedger() {
		t.Errorf("KDA = %+v", kda.Chain)
	}
	if kda.Chain.Ledgers[0] != entity.AnchorLedger {
		t.Error("first ledger must be the anchor")
	}
	if len(kda.TokenModules) == 0 || kda.TokenModules[0].Decimals != 12 {
		t.Errorf("KDA modules = %+v", kda.TokenModules)
	}

	if byCode["SOL"].Chain.Family != entity.FamilySolana || byCode["SOL"].Chain.NativeDecimals != 9 {
		t.Errorf("SOL = %+v", byCode["SOL"].Chain)
	}
	if byCode["ETH"].Chain.EVMChainID != 1 || byCode["ETH"].Chain.IndexerChain != "eth" {
		t.Errorf("ETH = %+v", byCode["ETH"].Chain)
	}
	if !byCode["KDA_TESTNET"].Chain.IsTestnet || byCode["KDA_TESTNET"].Chain.IsActive {
		t.Error("KDA_TESTNET should be an inactive testnet")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "empty", yaml: "chains: []", want: "empty"},
		{name: "unknown family", yaml: "chains:\n  - {code: X, family: cosmos, native: {symbol: X, decimals: 6}}", want: "unsupported chain"},
		{name: "unknown field", yaml: "chains:\n  - {code: X, family: evm, colour: red, native: {symbol: X, decimals: 18}}", want: "colour"},
		{name: "duplicate", yaml: "chains:\n  - {code: X, family: evm, native: {symbol: X, decimals: 18}}\n  - {code: x, family: evm, native: {symbol: X, decimals: 18}}", want: "duplicate"},
		{name: "ledgers on evm", yaml: "chains:\n  - {code: X, family: evm, ledger_count: 2, native: {symbol: X, decimals: 18}}", want: "ledger_count"},
		{name: "kadena without network", yaml: "chains:\n  - {code: K, family: kadena, ledger_count: 2, native: {symbol: K, decimals: 12}}", want: "network"},
		{name: "missing symbol", yaml: "chains:\n  - {code: X, family: evm, native: {decimals: 18}}", want: "native symbol"},
		{name: "multicall on solana", yaml: "chains:\n  - {code: S, family: solana, multicall: direct, native: {symbol: S, decimals: 9}}", want: "multicall"},
		{name: "bad multicall", yaml: "chains:\n  - {code: X, family: evm, multicall: sometimes, native: {symbol: X, decimals: 18}}", want: "multicall"},
		{name: "unnamed module", yaml: "chains:\n  - {code: K, family: kadena, network: n, native: {symbol: K, decimals: 12}, token_modules: [{symbol: T}]}", want: "token module"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}

	_, err := Parse([]byte("chains:\n  - {code: X, family: cosmos, native: {symbol: X}}"))
	if !errors.Is(err, entity.ErrUnsupportedChain) {
		t.Errorf("unknown family should wrap ErrUnsupportedChain, got %v", err)
	}
}

func TestParse_Multicall(t *testing.T) {
	entries, err := Parse([]byte(`chains:
  - {code: A, family: evm, multicall: Direct, native: {symbol: A, decimals: 18}}
  - {code: B, family: evm, multicall: "0x000000000000000000000000000000000000bEEF", native: {symbol: B, decimals: 18}}
  - {code: C, family: evm, native: {symbol: C, decimals: 18}}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{MulticallDirect, "0x000000000000000000000000000000000000beef", ""}
	for i, e := range entries {
		if e.Multicall != want[i] {
			t.Errorf("%s multicall = %q, want %q", e.Chain.Code, e.Multicall, want[i])
		}
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chains.yaml")
	doc := "chains:\n  - {code: base, family: evm, evm_chain_id: 8453, rpc_env: BASE_RPC_URL, native: {symbol: ETH, decimals: 18}, active: true}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	entries, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 1 || entries[0].Chain.Code != "BASE" {
		t.Fatalf("entries = %+v", entries)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEntry_RPCURL(t *testing.T) {
	e := Entry{RPCEnv: "KADENA_API_URL", DefaultRPC: "https://api.chainweb.com"}
	env := map[string]string{}
	lookup := func(k string) string { return env[k] }

	if got := e.RPCURL(lookup); got != "https://api.chainweb.com" {
		t.Errorf("default = %s", got)
	}
	env["KADENA_API_URL"] = " https://node.example "
	if got := e.RPCURL(lookup); got != "https://node.example" {
		t.Errorf("override = %s", got)
	}
	if got := (Entry{}).RPCURL(lookup); got != "" {
		t.Errorf("no endpoint = %q", got)
	}
}
