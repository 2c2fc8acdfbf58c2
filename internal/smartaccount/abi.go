package smartaccount

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// SimpleAccount v0.6 factory, account and EntryPoint fragments.
const contractsABI = `[
  {"type":"function","name":"getAddress","stateMutability":"view",
   "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"createAccount","stateMutability":"nonpayable",
   "inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],
   "outputs":[{"name":"ret","type":"address"}]},
  {"type":"function","name":"execute","stateMutability":"nonpayable",
   "inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"getNonce","stateMutability":"view",
   "inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],
   "outputs":[{"name":"nonce","type":"uint256"}]}
]`

var contracts abi.ABI

func init() {
	var err error
	contracts, err = abi.JSON(strings.NewReader(contractsABI))
	if err != nil {
		panic(err)
	}
}
