// Package config loads and validates the arbitrage core's configuration
// from environment variables and CLI flags into one immutable record.
// Grounded on cmd/simulator/main.go's BuildFlagSet/BuildViper/BuildConfig
// split in luxfi-evm: pflag defines the CLI surface, viper binds it to
// environment variables, spf13/cast coerces the loosely-typed values
// viper hands back into the big.Int/common.Address types the core
// needs.
package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/glassonion32313/Ought/internal/errs"
	"github.com/glassonion32313/Ought/internal/model"
)

// Default token list on Base mainnet, mirroring the source's
// hard-coded fallback in scanner/utils/config.py.
var defaultTokenList = []string{
	"0x4200000000000000000000000000000000000006", // WETH
	"0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA", // USDbC
	"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC
	"0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb", // DAI
}

const (
	keyRPCURLs            = "RPC_URLS"
	keyWSRPCURL           = "WS_RPC_URL"
	keyPrivateKey         = "PRIVATE_KEY"
	keyContractAddress    = "CONTRACT_ADDRESS"
	keyTokenList          = "TOKEN_LIST"
	keyMinProfitThreshold = "MIN_PROFIT_THRESHOLD"
	keyMaxGasPriceGwei    = "MAX_GAS_PRICE_GWEI"
	keyUseGPU             = "USE_GPU"
	keyEnableMempool      = "ENABLE_MEMPOOL"
	keyLogLevel           = "LOG_LEVEL"
	keyLogFile            = "LOG_FILE"
	keyChainID            = "CHAIN_ID"
	keyMetricsAddr        = "METRICS_ADDR"
)

// Config is the immutable configuration record every component is
// handed a read-only copy of. Nothing mutates it after BuildConfig
// returns.
type Config struct {
	RpcURLs            []string
	WsRpcURL           string
	PrivateKey         *ecdsa.PrivateKey
	ExecutorAddress    common.Address // derived from PrivateKey
	ContractAddress    common.Address
	TokenList          []common.Address
	MinProfitThreshold *big.Int
	MaxGasPriceCap     *big.Int // wei
	UseGPU             bool
	EnableMempool      bool
	LogLevel           string
	LogFile            string
	ChainID            uint64
	MetricsAddr        string

	// CLI-only overrides, not sourced from environment.
	Testnet  bool
	ScanOnly bool
	Verbose  bool

	Dexes []model.DexConfig
}

// BuildFlagSet defines the CLI surface from spec.md §6: --testnet,
// --scan-only, --gpu, --verbose.
func BuildFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("arbbot", pflag.ContinueOnError)
	fs.Bool("testnet", false, "run on Base Sepolia instead of Base mainnet")
	fs.Bool("scan-only", false, "disable the executor; only scan and log candidate routes")
	fs.Bool("gpu", false, "enable the parallel route pre-filter")
	fs.Bool("verbose", false, "set LOG_LEVEL to debug")
	return fs
}

// BuildViper binds environment variables and the given flag set into
// one viper instance, parsing args (excluding argv[0]) into the flags.
func BuildViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	v.SetDefault(keyWSRPCURL, "")
	v.SetDefault(keyTokenList, strings.Join(defaultTokenList, ","))
	v.SetDefault(keyMinProfitThreshold, "10000000000000000") // 0.01 ETH
	v.SetDefault(keyMaxGasPriceGwei, 100)
	v.SetDefault(keyUseGPU, false)
	v.SetDefault(keyEnableMempool, false)
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFile, "")
	v.SetDefault(keyChainID, 8453)
	v.SetDefault(keyMetricsAddr, "")

	return v, nil
}

// BuildConfig validates and converts v's values into a Config. This is
// the Go analogue of scanner/utils/config.py's Config.__init__ plus
// Config.validate, folded into one fallible constructor instead of a
// constructor that can leave required fields empty.
func BuildConfig(v *viper.Viper) (*Config, error) {
	rpcURLsRaw := v.GetString(keyRPCURLs)
	rpcURLs := splitNonEmpty(rpcURLsRaw)
	if len(rpcURLs) == 0 {
		return nil, fmt.Errorf("%w: %s not configured", errs.ErrConfiguration, keyRPCURLs)
	}

	pkHex := v.GetString(keyPrivateKey)
	if pkHex == "" {
		return nil, fmt.Errorf("%w: %s not configured", errs.ErrConfiguration, keyPrivateKey)
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(pkHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s invalid: %v", errs.ErrConfiguration, keyPrivateKey, err)
	}

	contractAddrStr := v.GetString(keyContractAddress)
	if contractAddrStr == "" {
		return nil, fmt.Errorf("%w: %s not configured", errs.ErrConfiguration, keyContractAddress)
	}
	if !common.IsHexAddress(contractAddrStr) {
		return nil, fmt.Errorf("%w: %s is not a valid address", errs.ErrConfiguration, keyContractAddress)
	}

	tokenListRaw := v.GetString(keyTokenList)
	tokenStrs := splitNonEmpty(tokenListRaw)
	tokens := make([]common.Address, 0, len(tokenStrs))
	for _, t := range tokenStrs {
		if !common.IsHexAddress(t) {
			return nil, fmt.Errorf("%w: %s contains invalid address %q", errs.ErrConfiguration, keyTokenList, t)
		}
		tokens = append(tokens, common.HexToAddress(t))
	}

	minProfit, ok := new(big.Int).SetString(cast.ToString(v.Get(keyMinProfitThreshold)), 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an integer", errs.ErrConfiguration, keyMinProfitThreshold)
	}

	maxGasGwei := cast.ToUint64(v.Get(keyMaxGasPriceGwei))
	maxGasCap := new(big.Int).Mul(new(big.Int).SetUint64(maxGasGwei), big.NewInt(1_000_000_000))

	chainID := cast.ToUint64(v.Get(keyChainID))

	verbose := v.GetBool("verbose")
	logLevel := v.GetString(keyLogLevel)
	if verbose {
		logLevel = "debug"
	}

	cfg := &Config{
		RpcURLs:            rpcURLs,
		WsRpcURL:           v.GetString(keyWSRPCURL),
		PrivateKey:         privateKey,
		ExecutorAddress:    crypto.PubkeyToAddress(privateKey.PublicKey),
		ContractAddress:    common.HexToAddress(contractAddrStr),
		TokenList:          tokens,
		MinProfitThreshold: minProfit,
		MaxGasPriceCap:     maxGasCap,
		UseGPU:             v.GetBool("gpu") || v.GetBool(keyUseGPU),
		EnableMempool:      v.GetBool(keyEnableMempool),
		LogLevel:           logLevel,
		LogFile:            v.GetString(keyLogFile),
		ChainID:            chainID,
		MetricsAddr:        v.GetString(keyMetricsAddr),
		Testnet:            v.GetBool("testnet"),
		ScanOnly:           v.GetBool("scan-only"),
		Verbose:            verbose,
		Dexes:              defaultDexes(),
	}
	if cfg.Testnet {
		cfg.ChainID = 84532 // Base Sepolia
	}

	return cfg, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// defaultDexes mirrors the dex_configs dict in the source scanner.py,
// carried as the Go side's built-in DEX catalog.
func defaultDexes() []model.DexConfig {
	weth := common.HexToAddress(defaultTokenList[0])
	usdbc := common.HexToAddress(defaultTokenList[1])
	usdc := common.HexToAddress(defaultTokenList[2])

	v3Pairs := [][2]common.Address{{weth, usdbc}, {weth, usdc}, {usdbc, usdc}}
	v3Fees := []uint64{500, 3000, 10000}

	return []model.DexConfig{
		{
			ID:             "uniswap_v2",
			Router:         common.HexToAddress("0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24"),
			Factory:        common.HexToAddress("0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6"),
			Kind:           model.ConstantProductV2,
			FeeNumerator:   997,
			FeeDenominator: 1000,
		},
		{
			ID:             "uniswap_v3",
			Router:         common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"),
			Factory:        common.HexToAddress("0x33128a8fC17869897dcE68Ed026d694621f6FDfD"),
			Kind:           model.ConcentratedV3,
			FeeNumerator:   997,
			FeeDenominator: 1000,
			FeeTiers:       v3Fees,
			Pairs:          v3Pairs,
		},
		{
			ID:             "sushiswap",
			Router:         common.HexToAddress("0x6BDED42c6DA8FBf0d2bA55B2fa120C5e0c8D7891"),
			Factory:        common.HexToAddress("0x71524B4f93c58fcbF659783284E38825f0622859"),
			Kind:           model.ConstantProductV2,
			FeeNumerator:   997,
			FeeDenominator: 1000,
		},
		{
			ID:             "aerodrome",
			Router:         common.HexToAddress("0xcF77a3Ba9A5CA399B7c97c74d54e5b1Beb874E43"),
			Factory:        common.HexToAddress("0x420DD381b31aEf6683db6B902084cB0FFECe40Da"),
			Kind:           model.ConstantProductV2,
			FeeNumerator:   997,
			FeeDenominator: 1000,
		},
		{
			ID:             "baseswap",
			Router:         common.HexToAddress("0x327Df1E6de05895d2ab08513aaDD9313Fe505d86"),
			Factory:        common.HexToAddress("0xFDa619b6d20975be80A10332cD39b9a4b0FAa8BB"),
			Kind:           model.ConstantProductV2,
			FeeNumerator:   9975,
			FeeDenominator: 10000,
		},
	}
}
