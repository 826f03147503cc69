package ethereum

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const contractABI = `[
	{
		"type": "function",
		"name": "mint",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "tier", "type": "uint8"},
			{"name": "timestamp", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"type": "event",
		"name": "TipReceived",
		"anonymous": false,
		"inputs": [
			{"name": "tipper", "type": "address", "indexed": false},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "username", "type": "string", "indexed": false}
		]
	}
]`

const (
	mintMethod       = "mint"
	tipReceivedEvent = "TipReceived"
)

var parsedABI = mustParseABI(contractABI)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}
