package poolregistry

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/glassonion32313/Ought/internal/model"
)

// factoryABIJSON and pairABIJSON mirror the minimal fragments the
// source's fetch_v2_pools defines inline in scanner.py.
const factoryABIJSON = `[
	{"type":"function","name":"allPairsLength","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"allPairs","stateMutability":"view","inputs":[{"type":"uint256"}],"outputs":[{"type":"address"}]}
]`

const pairABIJSON = `[
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"type":"address"}]}
]`

var factoryABI, pairABI abi.ABI

func init() {
	var err error
	factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		panic("poolregistry: invalid factory ABI: " + err.Error())
	}
	pairABI, err = abi.JSON(strings.NewReader(pairABIJSON))
	if err != nil {
		panic("poolregistry: invalid pair ABI: " + err.Error())
	}
}

func (r *Registry) allPairsLength(ctx context.Context, factory common.Address) (int, error) {
	data, err := factoryABI.Pack("allPairsLength")
	if err != nil {
		return 0, err
	}
	out, err := r.rpc.Call(ctx, ethereum.CallMsg{To: &factory, Data: data})
	if err != nil {
		return 0, err
	}
	result, err := factoryABI.Unpack("allPairsLength", out)
	if err != nil || len(result) == 0 {
		return 0, fmt.Errorf("unpack allPairsLength: %w", err)
	}
	n, ok := result[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("allPairsLength: unexpected type %T", result[0])
	}
	return int(n.Int64()), nil
}

func (r *Registry) allPairs(ctx context.Context, factory common.Address, index int) (common.Address, error) {
	data, err := factoryABI.Pack("allPairs", big.NewInt(int64(index)))
	if err != nil {
		return common.Address{}, err
	}
	out, err := r.rpc.Call(ctx, ethereum.CallMsg{To: &factory, Data: data})
	if err != nil {
		return common.Address{}, err
	}
	result, err := factoryABI.Unpack("allPairs", out)
	if err != nil || len(result) == 0 {
		return common.Address{}, fmt.Errorf("unpack allPairs: %w", err)
	}
	addr, ok := result[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("allPairs: unexpected type %T", result[0])
	}
	return addr, nil
}

func (r *Registry) fetchPool(ctx context.Context, dex model.DexConfig, index int) (model.PoolSnapshot, error) {
	pairAddr, err := r.allPairs(ctx, dex.Factory, index)
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("allPairs(%d): %w", index, err)
	}

	reserve0, reserve1, err := r.getReserves(ctx, pairAddr)
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("getReserves: %w", err)
	}
	token0, err := r.callAddress(ctx, pairAddr, pairABI, "token0")
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("token0: %w", err)
	}
	token1, err := r.callAddress(ctx, pairAddr, pairABI, "token1")
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("token1: %w", err)
	}

	return model.PoolSnapshot{
		PoolAddress:    pairAddr,
		DexID:          dex.ID,
		Router:         dex.Router,
		Token0:         token0,
		Token1:         token1,
		Reserve0:       reserve0,
		Reserve1:       reserve1,
		FeeNumerator:   dex.FeeNumerator,
		FeeDenominator: dex.FeeDenominator,
		Kind:           model.ConstantProductV2,
	}, nil
}

func (r *Registry) getReserves(ctx context.Context, pair common.Address) (*big.Int, *big.Int, error) {
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}
	out, err := r.rpc.Call(ctx, ethereum.CallMsg{To: &pair, Data: data})
	if err != nil {
		return nil, nil, err
	}
	result, err := pairABI.Unpack("getReserves", out)
	if err != nil || len(result) < 2 {
		return nil, nil, fmt.Errorf("unpack getReserves: %w", err)
	}
	r0, ok0 := result[0].(*big.Int)
	r1, ok1 := result[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("getReserves: unexpected types")
	}
	return r0, r1, nil
}

func (r *Registry) callAddress(ctx context.Context, to common.Address, contractABI abi.ABI, method string) (common.Address, error) {
	data, err := contractABI.Pack(method)
	if err != nil {
		return common.Address{}, err
	}
	out, err := r.rpc.Call(ctx, ethereum.CallMsg{To: &to, Data: data})
	if err != nil {
		return common.Address{}, err
	}
	result, err := contractABI.Unpack(method, out)
	if err != nil || len(result) == 0 {
		return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	addr, ok := result[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, result[0])
	}
	return addr, nil
}
