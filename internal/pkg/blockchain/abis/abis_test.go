package abis

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestABIs(t *testing.T) {
	tests := []struct {
		name    string
		load    func() (*abi.ABI, error)
		methods map[string]string // method -> first output type
	}{
		{"erc20", GetERC20ABI, map[string]string{"balanceOf": "uint256", "decimals": "uint8", "symbol": "string", "name": "string", "totalSupply": "uint256"}},
		{"erc20 bytes32", GetERC20Bytes32ABI, map[string]string{"symbol": "bytes32", "name": "bytes32"}},
		{"multicall3", GetMulticall3ABI, map[string]string{"aggregate3": "(bool,bytes)[]", "getEthBalance": "uint256"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := tt.load()
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			for name, out := range tt.methods {
				m, ok := parsed.Methods[name]
				if !ok {
					t.Errorf("missing method %s", name)
					continue
				}
				if got := m.Outputs[0].Type.String(); got != out {
					t.Errorf("%s output = %s, want %s", name, got, out)
				}
			}

			again, _ := tt.load()
			if again != parsed {
				t.Error("ABI should be parsed once and shared")
			}
		})
	}
}

func TestParseABI_Invalid(t *testing.T) {
	if _, err := ParseABI(`not json`); err == nil {
		t.Error("expected error")
	}
}
