package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Common ERC20 ABI function selectors
var (
	// balanceOf(address)
	balanceOfSelector = common.Hex2Bytes("70a08231")
	// decimals()
	decimalsSelector = common.Hex2Bytes("313ce567")
	// symbol()
	symbolSelector = common.Hex2Bytes("95d89b41")
)

func (c *Client) tokenBalanceOf(ctx context.Context, chainName string, tokenAddress, holderAddress common.Address) (*big.Int, error) {
	callData := make([]byte, 36)
	copy(callData[:4], balanceOfSelector)
	copy(callData[4:], common.LeftPadBytes(holderAddress.Bytes(), 32))

	result, err := c.CallContract(ctx, chainName, ethereum.CallMsg{To: &tokenAddress, Data: callData})
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

func (c *Client) getTokenSymbol(ctx context.Context, chainName string, tokenAddress common.Address) (string, error) {
	result, err := c.CallContract(ctx, chainName, ethereum.CallMsg{To: &tokenAddress, Data: symbolSelector})
	if err != nil {
		return "", err
	}
	return decodeString(result), nil
}

func (c *Client) getTokenDecimals(ctx context.Context, chainName string, tokenAddress common.Address) (uint8, error) {
	result, err := c.CallContract(ctx, chainName, ethereum.CallMsg{To: &tokenAddress, Data: decimalsSelector})
	if err != nil {
		return 18, err
	}
	if len(result) == 0 {
		return 18, nil
	}
	return uint8(new(big.Int).SetBytes(result).Uint64()), nil
}

// decodeString decodes an ABI-encoded string
func decodeString(data []byte) string {
	if len(data) < 64 {
		// Some tokens return a fixed-length string
		return strings.TrimRight(string(data), "\x00")
	}

	// offset (32 bytes) + length (32 bytes) + data
	length := new(big.Int).SetBytes(data[32:64]).Int64()
	if length == 0 || int(length) > len(data)-64 {
		return ""
	}

	return strings.TrimRight(string(data[64:64+length]), "\x00")
}

// Reader reads the two balances tracked per wallet on one chain: the native
// coin and a configured ERC20 token. A zero token address disables the
// token read.
type Reader struct {
	client *Client
	chain  string
	token  common.Address
}

// NewReader binds client to chainName and token.
func NewReader(client *Client, chainName string, token common.Address) *Reader {
	return &Reader{client: client, chain: chainName, token: token}
}

func (r *Reader) NativeBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return r.client.GetBalance(ctx, r.chain, address)
}

func (r *Reader) TokenBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	if r.token == (common.Address{}) {
		return new(big.Int), nil
	}
	return r.client.tokenBalanceOf(ctx, r.chain, r.token, address)
}

// TokenInfo returns the configured token's symbol and decimals. Without a
// token it reports an empty symbol and 0 decimals.
func (r *Reader) TokenInfo(ctx context.Context) (string, uint8, error) {
	if r.token == (common.Address{}) {
		return "", 0, nil
	}
	decimals, err := r.client.getTokenDecimals(ctx, r.chain, r.token)
	if err != nil {
		return "", 0, err
	}
	symbol, err := r.client.getTokenSymbol(ctx, r.chain, r.token)
	if err != nil {
		symbol = "TOKEN"
	}
	return symbol, decimals, nil
}

// FormatBalance formats a balance with decimals as a human-readable string,
// truncated to at most 6 fractional digits.
func FormatBalance(balance *big.Int, decimals uint8) string {
	if balance == nil {
		return "0"
	}

	places := int32(decimals)
	if places > 6 {
		places = 6
	}
	return decimal.NewFromBigInt(balance, -int32(decimals)).Truncate(places).StringFixed(places)
}

// FormatBaseUnits formats a base-unit decimal string such as a stored
// wallet balance. Unparseable input renders as "0".
func FormatBaseUnits(amount string, decimals uint8) string {
	v, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return "0"
	}
	return FormatBalance(v, decimals)
}

var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrAmountNotPositive = errors.New("amount must be positive")
)

// ParseUnits converts a human amount such as "0.25" into base units with
// the given decimals. More fractional digits than decimals is an error.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if -d.Exponent() > int32(decimals) && !d.Equal(d.Truncate(int32(decimals))) {
		return nil, fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, decimals)
	}
	if !d.IsPositive() {
		return nil, ErrAmountNotPositive
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}
