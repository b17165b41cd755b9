package threshold

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	UserAddressParam = ":userAddress"

	MethodNone       = ""
	MethodEthBalance = "eth_getBalance"
	MethodBalanceOf  = "balanceOf"
)

var (
	ErrInvalidConditions = errors.New("invalid access control conditions")
	ErrAccessDenied      = errors.New("access control conditions not satisfied")
)

// Condition is one clause of an access-control predicate; all clauses of a
// predicate must hold.
type Condition struct {
	Chain           string   `json:"chain"`
	ContractAddress string   `json:"contractAddress"`
	Method          string   `json:"method"`
	Parameters      []string `json:"parameters"`
	Comparator      string   `json:"comparator"`
	Threshold       string   `json:"threshold"`
}

type AccessControlConditions []Condition

// ChainReader answers the on-chain questions a condition can ask.
type ChainReader interface {
	BalanceAt(ctx context.Context, chain string, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, chain string, contract, owner common.Address) (*big.Int, error)
}

// OwnerConditions restricts a ciphertext to a single wallet.
func OwnerConditions(chain string, owner common.Address) AccessControlConditions {
	return AccessControlConditions{
		{
			Chain:      chain,
			Method:     MethodNone,
			Parameters: []string{UserAddressParam},
			Comparator: "=",
			Threshold:  strings.ToLower(owner.Hex()),
		},
	}
}

func (c AccessControlConditions) Validate() error {
	if len(c) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidConditions)
	}

	for idx, condition := range c {
		err := condition.validate()
		if err != nil {
			return fmt.Errorf("condition %d: %w", idx, err)
		}
	}

	return nil
}

func (c AccessControlConditions) Hash() ([]byte, error) {
	err := c.Validate()
	if err != nil {
		return nil, err
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conditions: %w", err)
	}

	sum := sha256.Sum256(marshaled)

	return sum[:], nil
}

// Evaluate reports whether user satisfies every condition.
func (c AccessControlConditions) Evaluate(ctx context.Context, reader ChainReader, user common.Address) (bool, error) {
	err := c.Validate()
	if err != nil {
		return false, err
	}

	for _, condition := range c {
		ok, err := condition.evaluate(ctx, reader, user)
		if err != nil {
			return false, err
		}

		if !ok {
			return false, nil
		}
	}

	return true, nil
}

func (c Condition) validate() error {
	if len(c.Parameters) != 1 {
		return fmt.Errorf("%w: exactly one parameter is required", ErrInvalidConditions)
	}

	switch c.Method {
	case MethodNone:
		if c.Comparator != "=" && c.Comparator != "!=" {
			return fmt.Errorf("%w: comparator %q not allowed for string match", ErrInvalidConditions, c.Comparator)
		}
	case MethodEthBalance, MethodBalanceOf:
		_, ok := new(big.Int).SetString(c.Threshold, 10)
		if !ok {
			return fmt.Errorf("%w: threshold %q is not an integer", ErrInvalidConditions, c.Threshold)
		}

		if !isComparator(c.Comparator) {
			return fmt.Errorf("%w: unknown comparator %q", ErrInvalidConditions, c.Comparator)
		}

		if c.Method == MethodBalanceOf && !common.IsHexAddress(c.ContractAddress) {
			return fmt.Errorf("%w: contract address %q", ErrInvalidConditions, c.ContractAddress)
		}
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidConditions, c.Method)
	}

	return nil
}

func isComparator(comparator string) bool {
	switch comparator {
	case "=", "!=", ">", ">=", "<", "<=":
		return true
	default:
		return false
	}
}

func (c Condition) parameter(user common.Address) string {
	if c.Parameters[0] == UserAddressParam {
		return strings.ToLower(user.Hex())
	}

	return c.Parameters[0]
}

func (c Condition) evaluate(ctx context.Context, reader ChainReader, user common.Address) (bool, error) {
	param := c.parameter(user)

	if c.Method == MethodNone {
		equal := strings.EqualFold(param, c.Threshold)

		return equal == (c.Comparator == "="), nil
	}

	if !common.IsHexAddress(param) {
		return false, fmt.Errorf("%w: parameter %q is not an address", ErrInvalidConditions, param)
	}

	if reader == nil {
		return false, fmt.Errorf("%w: no chain reader for %q", ErrInvalidConditions, c.Chain)
	}

	var (
		value *big.Int
		err   error
	)

	account := common.HexToAddress(param)

	if c.Method == MethodEthBalance {
		value, err = reader.BalanceAt(ctx, c.Chain, account)
	} else {
		value, err = reader.TokenBalance(ctx, c.Chain, common.HexToAddress(c.ContractAddress), account)
	}

	if err != nil {
		return false, fmt.Errorf("failed to read chain state: %w", err)
	}

	threshold, _ := new(big.Int).SetString(c.Threshold, 10)

	return compare(value.Cmp(threshold), c.Comparator), nil
}

func compare(cmp int, comparator string) bool {
	switch comparator {
	case "=":
		return cmp == 0
	case "!=":
		return cmp != 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	default:
		return false
	}
}
