// Package abis holds the contract ABIs used for balance reads. Each ABI is
// parsed once and shared; callers must not mutate the result.
package abis

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	erc20JSON = `[
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"type":"uint256"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"type":"uint8"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"type":"string"}]},
{"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}]`

	// Pre-standard tokens such as MKR and SAI return bytes32 name and symbol.
	erc20Bytes32JSON = `[
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]}]`

	multicall3JSON = `[
{"type":"function","name":"aggregate3","stateMutability":"payable",
 "inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}]}],
 "outputs":[{"name":"returnData","type":"tuple[]","components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]},
{"type":"function","name":"getEthBalance","stateMutability":"view","inputs":[{"name":"addr","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]}]`
)

var (
	erc20        = sync.OnceValues(func() (*abi.ABI, error) { return ParseABI(erc20JSON) })
	erc20Bytes32 = sync.OnceValues(func() (*abi.ABI, error) { return ParseABI(erc20Bytes32JSON) })
	multicall3   = sync.OnceValues(func() (*abi.ABI, error) { return ParseABI(multicall3JSON) })
)

// GetERC20ABI returns balanceOf plus the metadata getters.
func GetERC20ABI() (*abi.ABI, error) { return erc20() }

// GetERC20Bytes32ABI returns the bytes32 variants of name and symbol.
func GetERC20Bytes32ABI() (*abi.ABI, error) { return erc20Bytes32() }

// GetMulticall3ABI returns aggregate3 and getEthBalance.
func GetMulticall3ABI() (*abi.ABI, error) { return multicall3() }

// ParseABI parses a JSON ABI definition.
func ParseABI(definition string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return nil, fmt.Errorf("parsing abi: %w", err)
	}
	return &parsed, nil
}
