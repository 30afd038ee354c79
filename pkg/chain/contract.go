package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// ErrEmptyResult is returned when a call succeeds but the contract returned no
// data, which is what a missing accessor with a non-reverting fallback looks like.
var ErrEmptyResult = errors.New("contract returned no data")

// Call packs method(args...), runs it as eth_call against latest state and
// unpacks the outputs.
func Call(ctx context.Context, c Caller, parsed abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), ErrEmptyResult)
	}
	vals, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return vals, nil
}

// IsRevert reports whether err is the EVM rejecting the call (revert, missing
// selector, empty return) rather than the call never reaching the node.
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrEmptyResult) {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") ||
		strings.Contains(msg, "revert") ||
		strings.Contains(msg, "invalid opcode")
}

// IsTransportError reports whether err means the endpoint itself is unreachable.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "eof")
}

func ReadDecimals(ctx context.Context, c Caller, token common.Address) (uint8, error) {
	vals, err := Call(ctx, c, ERC20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals on %s: unexpected type %T", token.Hex(), vals[0])
	}
	return d, nil
}

func ReadAddress(ctx context.Context, c Caller, parsed abi.ABI, to common.Address, method string) (common.Address, error) {
	vals, err := Call(ctx, c, parsed, to, method)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s on %s: unexpected type %T", method, to.Hex(), vals[0])
	}
	return addr, nil
}
