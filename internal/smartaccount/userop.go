package smartaccount

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is an EntryPoint v0.6 user operation.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte // first 20 bytes = paymaster address
	Signature            []byte
}

type userOperationJSON struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func hexBig(v *big.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(v)
}

// MarshalJSON encodes op in the bundler's hex wire form.
func (op *UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(userOperationJSON{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		InitCode:             nonNil(op.InitCode),
		CallData:             nonNil(op.CallData),
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     nonNil(op.PaymasterAndData),
		Signature:            nonNil(op.Signature),
	})
}

// UnmarshalJSON decodes the bundler's hex wire form.
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var raw userOperationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*op = UserOperation{
		Sender:               raw.Sender,
		Nonce:                raw.Nonce.ToInt(),
		InitCode:             raw.InitCode,
		CallData:             raw.CallData,
		CallGasLimit:         raw.CallGasLimit.ToInt(),
		VerificationGasLimit: raw.VerificationGasLimit.ToInt(),
		PreVerificationGas:   raw.PreVerificationGas.ToInt(),
		MaxFeePerGas:         raw.MaxFeePerGas.ToInt(),
		MaxPriorityFeePerGas: raw.MaxPriorityFeePerGas.ToInt(),
		PaymasterAndData:     raw.PaymasterAndData,
		Signature:            raw.Signature,
	}
	return nil
}

func nonNil(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}

func safeBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	packedOpArgs = abi.Arguments{
		{Type: addressT}, {Type: uint256T}, {Type: bytes32T}, {Type: bytes32T},
		{Type: uint256T}, {Type: uint256T}, {Type: uint256T}, {Type: uint256T},
		{Type: uint256T}, {Type: bytes32T},
	}
	opHashArgs = abi.Arguments{{Type: bytes32T}, {Type: addressT}, {Type: uint256T}}
)

// Hash returns the EntryPoint v0.6 userOpHash:
// keccak256(abi.encode(keccak256(pack(op)), entryPoint, chainId)).
// The signature field is not covered.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	packed, err := packedOpArgs.Pack(
		op.Sender,
		safeBig(op.Nonce),
		crypto.Keccak256Hash(op.InitCode),
		crypto.Keccak256Hash(op.CallData),
		safeBig(op.CallGasLimit),
		safeBig(op.VerificationGasLimit),
		safeBig(op.PreVerificationGas),
		safeBig(op.MaxFeePerGas),
		safeBig(op.MaxPriorityFeePerGas),
		crypto.Keccak256Hash(op.PaymasterAndData),
	)
	if err != nil {
		return common.Hash{}, err
	}

	enc, err := opHashArgs.Pack(crypto.Keccak256Hash(packed), entryPoint, safeBig(chainID))
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(enc), nil
}

// Receipt is the subset of eth_getUserOperationReceipt the client reads.
type Receipt struct {
	UserOpHash common.Hash `json:"userOpHash"`
	Success    bool        `json:"success"`
	Reason     string      `json:"reason,omitempty"`
	Receipt    struct {
		TransactionHash common.Hash `json:"transactionHash"`
	} `json:"receipt"`
}

// GasEstimate is the eth_estimateUserOperationGas result.
type GasEstimate struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

// SponsorResult is the pm_sponsorUserOperation result. Gas fields are
// optional; when present they replace the bundler's estimate.
type SponsorResult struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas,omitempty"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit,omitempty"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit,omitempty"`
}
