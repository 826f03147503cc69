package ethereum

import (
	"context"
	"fmt"
	"strings"

	geth "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultENSRegistry is the ENS registry address on mainnet and the public
// testnets.
const DefaultENSRegistry = "0x00000000000C2E074eC69A0dFb2997BA6C7d2e1e"

const ensABI = `[
	{
		"type": "function",
		"name": "resolver",
		"stateMutability": "view",
		"inputs": [{"name": "node", "type": "bytes32"}],
		"outputs": [{"name": "", "type": "address"}]
	},
	{
		"type": "function",
		"name": "name",
		"stateMutability": "view",
		"inputs": [{"name": "node", "type": "bytes32"}],
		"outputs": [{"name": "", "type": "string"}]
	},
	{
		"type": "function",
		"name": "addr",
		"stateMutability": "view",
		"inputs": [{"name": "node", "type": "bytes32"}],
		"outputs": [{"name": "", "type": "address"}]
	}
]`

var ensContract = mustParseABI(ensABI)

type NameResolver interface {
	LookupName(ctx context.Context, address common.Address) (string, error)
}

// ENSResolver looks up the primary ENS name of an address through its
// reverse record. A name is only returned if it resolves back to the same
// address.
type ENSResolver struct {
	caller   geth.ContractCaller
	registry common.Address
}

func NewENSResolver(caller geth.ContractCaller, registryAddress string) (*ENSResolver, error) {
	if registryAddress == "" {
		registryAddress = DefaultENSRegistry
	}
	if !common.IsHexAddress(registryAddress) {
		return nil, fmt.Errorf("%w: ens registry %q", ErrInvalidContract, registryAddress)
	}
	return &ENSResolver{caller: caller, registry: common.HexToAddress(registryAddress)}, nil
}

// LookupName returns "" when the address has no verified name.
func (r *ENSResolver) LookupName(ctx context.Context, address common.Address) (string, error) {
	reverseNode := namehash(strings.ToLower(address.Hex()[2:]) + ".addr.reverse")
	name, err := r.resolve(ctx, reverseNode, "name")
	if err != nil || name == nil {
		return "", err
	}

	forward, err := r.resolve(ctx, namehash(name.(string)), "addr")
	if err != nil || forward == nil {
		return "", err
	}
	if forward.(common.Address) != address {
		return "", nil
	}
	return name.(string), nil
}

// resolve calls method on the resolver the registry holds for node. It
// returns nil when there is no resolver or no record.
func (r *ENSResolver) resolve(ctx context.Context, node common.Hash, method string) (any, error) {
	resolver, err := r.call(ctx, r.registry, "resolver", node)
	if err != nil || resolver == nil || resolver.(common.Address) == (common.Address{}) {
		return nil, err
	}

	value, err := r.call(ctx, resolver.(common.Address), method, node)
	if err != nil || value == nil {
		return nil, err
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, nil
		}
	case common.Address:
		if v == (common.Address{}) {
			return nil, nil
		}
	}
	return value, nil
}

func (r *ENSResolver) call(ctx context.Context, contract common.Address, method string, node common.Hash) (any, error) {
	data, err := ensContract.Pack(method, node)
	if err != nil {
		return nil, err
	}
	output, err := r.caller.CallContract(ctx, geth.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if len(output) == 0 {
		return nil, nil
	}

	values, err := ensContract.Unpack(method, output)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, nil
	}
	return values[0], nil
}

func namehash(name string) common.Hash {
	var node common.Hash
	if name == "" {
		return node
	}
	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		label := crypto.Keccak256Hash([]byte(labels[i]))
		node = crypto.Keccak256Hash(node.Bytes(), label.Bytes())
	}
	return node
}
