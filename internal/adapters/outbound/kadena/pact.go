package kadena

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// noValueFound is the failure message Pact returns when a fungible table has no
// row for the account. It means the account does not exist on that ledger.
const noValueFound = "No value found in table"

// localRequest is the body accepted by the /local endpoint.
type localRequest struct {
	Hash string   `json:"hash"`
	Sigs []string `json:"sigs"`
	Cmd  string   `json:"cmd"`
}

type command struct {
	NetworkID string   `json:"networkId"`
	Payload   payload  `json:"payload"`
	Signers   []string `json:"signers"`
	Meta      meta     `json:"meta"`
	Nonce     string   `json:"nonce"`
}

type payload struct {
	Exec exec `json:"exec"`
}

type exec struct {
	Code string         `json:"code"`
	Data map[string]any `json:"data"`
}

type meta struct {
	ChainID      string  `json:"chainId"`
	Sender       string  `json:"sender"`
	GasLimit     int     `json:"gasLimit"`
	GasPrice     float64 `json:"gasPrice"`
	TTL          int     `json:"ttl"`
	CreationTime int64   `json:"creationTime"`
}

// localResponse is the subset of a /local command result the adapter reads.
//
// Example:
//
//	{"reqKey":"...","result":{"status":"success","data":12.5},"gas":18}
//	{"reqKey":"...","result":{"status":"failure","error":{"message":"No value found in table coin_coin-table for key: k:..."}}}
type localResponse struct {
	Result struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
}

// buildLocal builds an unsigned /local request. The hash is the unpadded
// base64url blake2b-256 digest of the command string.
func (a *Adapter) buildLocal(ledger int, code string, data map[string]any, now time.Time) (localRequest, error) {
	if data == nil {
		data = map[string]any{}
	}
	cmd := command{
		NetworkID: a.network,
		Payload:   payload{Exec: exec{Code: code, Data: data}},
		Signers:   []string{},
		Meta: meta{
			ChainID:  strconv.Itoa(ledger),
			GasLimit: a.config.GasLimit,
			GasPrice: a.config.GasPrice,
			TTL:      a.config.TTL,
			// Back-dated so nodes with a slow clock do not reject the command.
			CreationTime: now.Add(-a.config.ClockSkew).Unix(),
		},
		Nonce: now.UTC().Format(time.RFC3339Nano),
	}
	encoded, err := json.Marshal(cmd)
	if err != nil {
		return localRequest{}, fmt.Errorf("encoding pact command: %w", err)
	}
	return localRequest{
		Hash: hashCommand(encoded),
		Sigs: []string{},
		Cmd:  string(encoded),
	}, nil
}

func hashCommand(cmd []byte) string {
	sum := blake2b.Sum256(cmd)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// decodeDecimal reads a Pact decimal or integer. Pact encodes values as plain
// JSON numbers or, beyond float precision, as {"decimal":"..."} and {"int":...}.
func decodeDecimal(raw json.RawMessage) (string, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return "", fmt.Errorf("empty pact value")
	}
	if s[0] != '{' {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", fmt.Errorf("pact value %s is not a number: %w", s, err)
		}
		return n.String(), nil
	}

	var wrapped struct {
		Decimal *json.Number `json:"decimal"`
		Int     *json.Number `json:"int"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return "", fmt.Errorf("pact value %s: %w", s, err)
	}
	switch {
	case wrapped.Decimal != nil:
		return wrapped.Decimal.String(), nil
	case wrapped.Int != nil:
		return wrapped.Int.String(), nil
	default:
		return "", fmt.Errorf("pact value %s is not a decimal", s)
	}
}

// decodeInt reads a Pact integer such as the result of (module.precision).
func decodeInt(raw json.RawMessage) (int, error) {
	s, err := decodeDecimal(raw)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(s)
}
