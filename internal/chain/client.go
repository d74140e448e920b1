package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/NethermindEth/juno/core/felt"
	"github.com/NethermindEth/starknet.go/utils"
	"golang.org/x/crypto/sha3"

	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/rpcpool"
	"github.com/ConsumrBuzzy/stark-account-recovery/pkg/types"
)

// ErrContractNotFound means the address has no deployed contract. For a
// counterfactual account this is the expected state, not a failure.
var ErrContractNotFound = errors.New("contract not found at address")

// starknet json-rpc error code for "Contract not found"
const contractNotFoundCode = 20

// DefaultFeeTokenHex is the canonical ETH fee token contract.
const DefaultFeeTokenHex = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"

type rpcReq struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int         `json:"id"`
}

type rpcResp struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC application-level error from a node.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client is a minimal Starknet JSON-RPC reader. Every call runs through the
// endpoint pool, so transient node outages fail over instead of surfacing.
type Client struct {
	pool     *rpcpool.Pool
	hc       *http.Client
	feeToken *felt.Felt
}

// NewClient builds a reader over the given pool. feeToken may be nil to use
// the default ETH fee token.
func NewClient(pool *rpcpool.Pool, feeToken *felt.Felt) *Client {
	if feeToken == nil {
		feeToken, _ = new(felt.Felt).SetString(DefaultFeeTokenHex)
	}
	return &Client{
		pool:     pool,
		hc:       &http.Client{Timeout: 15 * time.Second},
		feeToken: feeToken,
	}
}

// post sends one JSON-RPC request to one endpoint and returns the raw result.
func (c *Client) post(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcReq{Jsonrpc: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	var rr rpcResp
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rr.Error != nil {
		return nil, rr.Error
	}
	return rr.Result, nil
}

// BlockNumber fetches the chain head. Used as the pre-search liveness probe.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return rpcpool.Do(ctx, c.pool, func(ctx context.Context, url string) (uint64, error) {
		raw, err := c.post(ctx, url, "starknet_blockNumber", []any{})
		if err != nil {
			return 0, err
		}
		var n uint64
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("decode block number: %w", err)
		}
		return n, nil
	})
}

// ClassHashAt returns the class hash deployed at addr, or ErrContractNotFound
// when nothing is deployed there. Only the latter is translated: an
// application-level "not found" comes from a healthy endpoint and must not
// trigger fail-over.
func (c *Client) ClassHashAt(ctx context.Context, addr *felt.Felt) (*felt.Felt, error) {
	type res struct {
		hash     *felt.Felt
		notFound bool
	}
	r, err := rpcpool.Do(ctx, c.pool, func(ctx context.Context, url string) (res, error) {
		raw, err := c.post(ctx, url, "starknet_getClassHashAt", []any{"latest", addr.String()})
		if err != nil {
			var re *RPCError
			if errors.As(err, &re) && re.Code == contractNotFoundCode {
				return res{notFound: true}, nil
			}
			return res{}, err
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return res{}, fmt.Errorf("decode class hash: %w", err)
		}
		hash, err := new(felt.Felt).SetString(s)
		if err != nil {
			return res{}, fmt.Errorf("class hash %q: %w", s, err)
		}
		return res{hash: hash}, nil
	})
	if err != nil {
		return nil, err
	}
	if r.notFound {
		return nil, ErrContractNotFound
	}
	return r.hash, nil
}

// BalanceOf reads the fee-token balance of addr via starknet_call. The
// token returns a u256 as (low, high) felts.
func (c *Client) BalanceOf(ctx context.Context, addr *felt.Felt) (*big.Int, error) {
	request := map[string]any{
		"contract_address":     c.feeToken.String(),
		"entry_point_selector": selectorFromName("balanceOf").String(),
		"calldata":             []string{addr.String()},
	}
	return rpcpool.Do(ctx, c.pool, func(ctx context.Context, url string) (*big.Int, error) {
		raw, err := c.post(ctx, url, "starknet_call", []any{request, "latest"})
		if err != nil {
			return nil, err
		}
		var words []string
		if err := json.Unmarshal(raw, &words); err != nil {
			return nil, fmt.Errorf("decode call result: %w", err)
		}
		if len(words) != 2 {
			return nil, fmt.Errorf("balanceOf returned %d words, want 2", len(words))
		}
		low, ok := new(big.Int).SetString(words[0], 0)
		if !ok {
			return nil, fmt.Errorf("bad balance low word %q", words[0])
		}
		high, ok := new(big.Int).SetString(words[1], 0)
		if !ok {
			return nil, fmt.Errorf("bad balance high word %q", words[1])
		}
		return new(big.Int).Add(low, new(big.Int).Lsh(high, 128)), nil
	})
}

// VerifyRecipe checks a found recipe against chain state. Returns whether the
// target is already deployed; an undeployed target is the normal
// counterfactual case. A deployed target whose class hash disagrees with the
// recipe is an error: the search matched parameters the chain contradicts.
func (c *Client) VerifyRecipe(ctx context.Context, r *types.Recipe) (deployed bool, err error) {
	hash, err := c.ClassHashAt(ctx, r.TargetAddress)
	if errors.Is(err, ErrContractNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !hash.Equal(r.ClassHash) {
		return true, fmt.Errorf("deployed class hash %s does not match recipe class hash %s",
			hash, r.ClassHash)
	}
	return true, nil
}

// selectorFromName is the starknet_keccak of the entry point name: keccak256
// truncated to 250 bits.
func selectorFromName(name string) *felt.Felt {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(name))
	sum := new(big.Int).SetBytes(h.Sum(nil))
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	return utils.BigIntToFelt(sum.And(sum, mask))
}
