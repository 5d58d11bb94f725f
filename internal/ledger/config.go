package ledger

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CurrencyDefinitions models the structure of configs/currencies.yaml.
type CurrencyDefinitions struct {
	Currencies map[string]CurrencyDefinition `yaml:"currencies"`
}

// CurrencyDefinition describes how one settlement currency maps onto a chain
// and its payment-forwarding contract.
type CurrencyDefinition struct {
	ChainID      int64  `yaml:"chain_id"`
	Decimals     int    `yaml:"decimals"`
	RPCURL       string `yaml:"rpc_url"`
	ProxyAddress string `yaml:"proxy_address"`
	FeeAddress   string `yaml:"fee_address"`
	Description  string `yaml:"description"`
}

// Sepolia 上的 ETH fee-proxy 合约与手续费地址，见 Request Network 的
// payment-networks 文档。手续费固定为 0，地址仅作为调用参数存在。
const (
	sepoliaChainID      = 11155111
	sepoliaProxyAddress = "0xe11BF2fDA23bF0A98365e1A4c04A87C9339e8687"
	sepoliaFeeAddress   = "0x35d0e078755Cd84D3E0656cAaB417Dee1d7939c7"
)

// DefaultDefinitions returns the built-in currency set used when no YAML file
// is configured. Only ETH-sepolia is supported by the current deployment.
func DefaultDefinitions() CurrencyDefinitions {
	return CurrencyDefinitions{
		Currencies: map[string]CurrencyDefinition{
			"ETH-sepolia": {
				ChainID:      sepoliaChainID,
				Decimals:     18,
				ProxyAddress: sepoliaProxyAddress,
				FeeAddress:   sepoliaFeeAddress,
				Description:  "Sepolia testnet, ETH fee-proxy settlement",
			},
		},
	}
}

// LoadCurrencyDefinitions parses the YAML file containing currency metadata.
// An empty path yields the built-in definitions.
func LoadCurrencyDefinitions(path string) (CurrencyDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultDefinitions(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return CurrencyDefinitions{}, fmt.Errorf("读取币种配置失败: %w", err)
	}

	var defs CurrencyDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return CurrencyDefinitions{}, fmt.Errorf("解析币种配置失败: %w", err)
	}
	if defs.Currencies == nil {
		defs.Currencies = map[string]CurrencyDefinition{}
	}
	return defs, nil
}

// Lookup returns the definition of the given currency code.
func (d CurrencyDefinitions) Lookup(currency string) (CurrencyDefinition, error) {
	def, ok := d.Currencies[currency]
	if !ok {
		return CurrencyDefinition{}, fmt.Errorf("不支持的结算币种: %s", currency)
	}
	return def, nil
}
