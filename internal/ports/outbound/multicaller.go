package outbound

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Multicaller executes many read-only contract calls as one round trip.
// Results come back in call order. A nil blockNumber reads the latest block.
type Multicaller interface {
	Execute(ctx context.Context, calls []Call, blockNumber *big.Int) ([]Result, error)

	// Address is the aggregator contract, or the zero address when calls are
	// batched at the RPC layer instead.
	Address() common.Address
}

// Call is one eth_call. A failing call with AllowFailure unset fails the batch.
type Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

type Result struct {
	Success    bool
	ReturnData []byte
}
