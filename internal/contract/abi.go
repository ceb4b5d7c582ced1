// Package contract holds the fixed on-chain ABI the executor calls
// against, per spec.md §6. The contract itself is out of scope (it is
// pre-deployed, external collaborator tooling); this package only
// knows its interface.
package contract

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// executorABIJSON is the fixed wire contract from spec.md §6. No
// abigen bindings are generated against it — the contract source isn't
// part of this repo, so there's nothing to codegen from beyond this
// literal ABI.
const executorABIJSON = `[
	{
		"type": "function",
		"name": "executeArbitrage",
		"stateMutability": "nonpayable",
		"inputs": [
			{
				"name": "params",
				"type": "tuple",
				"components": [
					{"name": "tokenIn", "type": "address"},
					{"name": "amountIn", "type": "uint256"},
					{"name": "dexRouters", "type": "address[]"},
					{"name": "swapData", "type": "bytes[]"},
					{"name": "expectedProfit", "type": "uint256"}
				]
			}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "emergencyWithdraw",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "token", "type": "address"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "owner",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"type": "address"}]
	},
	{
		"type": "function",
		"name": "setMinProfitThreshold",
		"stateMutability": "nonpayable",
		"inputs": [{"name": "_threshold", "type": "uint256"}],
		"outputs": []
	},
	{
		"type": "function",
		"name": "minProfitThreshold",
		"stateMutability": "view",
		"inputs": [],
		"outputs": [{"type": "uint256"}]
	},
	{
		"type": "event",
		"name": "ArbitrageExecuted",
		"anonymous": false,
		"inputs": [
			{"name": "token", "type": "address", "indexed": true},
			{"name": "amountIn", "type": "uint256", "indexed": false},
			{"name": "profit", "type": "uint256", "indexed": false},
			{"name": "executor", "type": "address", "indexed": true}
		]
	},
	{
		"type": "event",
		"name": "ArbitrageFailed",
		"anonymous": false,
		"inputs": [
			{"name": "token", "type": "address", "indexed": true},
			{"name": "amountIn", "type": "uint256", "indexed": false},
			{"name": "reason", "type": "string", "indexed": false}
		]
	},
	{
		"type": "event",
		"name": "ProfitWithdrawn",
		"anonymous": false,
		"inputs": [
			{"name": "token", "type": "address", "indexed": true},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "recipient", "type": "address", "indexed": true}
		]
	}
]`

// erc20ABIJSON is the minimal ERC-20 fragment the submit loop's token
// sanity check calls.
const erc20ABIJSON = `[
	{
		"type": "function",
		"name": "balanceOf",
		"stateMutability": "view",
		"inputs": [{"name": "account", "type": "address"}],
		"outputs": [{"type": "uint256"}]
	}
]`

// ExecutorABI is the parsed executor contract ABI, parsed once at
// package init so a malformed literal fails fast at program startup
// rather than on the first submit.
var ExecutorABI abi.ABI

// ERC20ABI is the parsed minimal ERC-20 fragment used for balance
// sanity checks.
var ERC20ABI abi.ABI

func init() {
	var err error
	ExecutorABI, err = abi.JSON(strings.NewReader(executorABIJSON))
	if err != nil {
		panic("contract: invalid embedded executor ABI: " + err.Error())
	}
	ERC20ABI, err = abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("contract: invalid embedded erc20 ABI: " + err.Error())
	}
}
