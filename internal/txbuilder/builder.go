package txbuilder

import (
	"fmt"

	"github.com/synthfi-arb/arb/pkg/types"
)

// maxTransactionSize is the hard size ceiling (§4.9): a serialized
// transaction over this is a precondition violation, never silently
// truncated or submitted anyway.
const maxTransactionSize = 1232

// AccountMeta describes one account's role in a transaction. No
// deduplication is performed here; callers must not list the same key
// twice (a documented precondition, not defended against).
type AccountMeta struct {
	Key        types.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is one opaque instruction: a program index into the
// caller-supplied Message.Accounts list, the subset of accounts it touches
// (by index into that same list), and its opaque data payload. The indices
// are remapped to the wire-ordered account vector during serialization.
type Instruction struct {
	ProgramIDIndex int
	Accounts       []int
	Data           []byte
}

// Message is the unsigned transaction body before account ordering and
// serialization.
type Message struct {
	Accounts        []AccountMeta
	RecentBlockhash types.Hash
	Instructions    []Instruction
}

// orderedAccounts is the account vector in the four-bucket wire order:
// signing-writable, signing-readonly, non-signing-writable,
// non-signing-readonly.
func orderedAccounts(accounts []AccountMeta) (ordered []AccountMeta, numRequiredSignatures, numReadonlySigned, numReadonlyUnsigned int) {
	var signingWritable, signingReadonly, nonSigningWritable, nonSigningReadonly []AccountMeta
	for _, a := range accounts {
		switch {
		case a.IsSigner && a.IsWritable:
			signingWritable = append(signingWritable, a)
		case a.IsSigner && !a.IsWritable:
			signingReadonly = append(signingReadonly, a)
		case !a.IsSigner && a.IsWritable:
			nonSigningWritable = append(nonSigningWritable, a)
		default:
			nonSigningReadonly = append(nonSigningReadonly, a)
		}
	}
	ordered = make([]AccountMeta, 0, len(accounts))
	ordered = append(ordered, signingWritable...)
	ordered = append(ordered, signingReadonly...)
	ordered = append(ordered, nonSigningWritable...)
	ordered = append(ordered, nonSigningReadonly...)
	return ordered, len(signingWritable) + len(signingReadonly), len(signingReadonly), len(nonSigningWritable) + len(nonSigningReadonly)
}

// indexOf finds key's position in ordered; used to remap an Instruction's
// account/program indices, which are expressed against the caller's
// original (unordered) account list.
func indexOf(ordered []AccountMeta, key types.PublicKey) (int, error) {
	for i, a := range ordered {
		if a.Key == key {
			return i, nil
		}
	}
	return 0, fmt.Errorf("txbuilder: account %s not present in account vector", key.String())
}

// serializeMessage builds message = header || accounts || recent_blockhash
// || instructions, remapping each instruction's account references
// (originally expressed against the caller-supplied, pre-ordering account
// list) to the ordered vector's indices.
func serializeMessage(msg Message) ([]byte, []AccountMeta, error) {
	ordered, numRequired, numReadonlySigned, numReadonlyUnsigned := orderedAccounts(msg.Accounts)
	if numRequired > 255 || numReadonlySigned > 255 || numReadonlyUnsigned > 255 {
		return nil, nil, fmt.Errorf("txbuilder: account count overflows the single-byte header fields")
	}

	out := make([]byte, 0, 256)
	out = append(out, byte(numRequired), byte(numReadonlySigned), byte(numReadonlyUnsigned))

	var err error
	out, err = EncodeCompactU16(out, len(ordered))
	if err != nil {
		return nil, nil, fmt.Errorf("encode account count: %w", err)
	}
	for _, a := range ordered {
		out = append(out, a.Key.Bytes()...)
	}

	out = append(out, msg.RecentBlockhash.Bytes()...)

	out, err = EncodeCompactU16(out, len(msg.Instructions))
	if err != nil {
		return nil, nil, fmt.Errorf("encode instruction count: %w", err)
	}
	for _, ix := range msg.Instructions {
		if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(msg.Accounts) {
			return nil, nil, fmt.Errorf("txbuilder: instruction program index %d out of range", ix.ProgramIDIndex)
		}
		programKey := msg.Accounts[ix.ProgramIDIndex].Key
		programOrderedIdx, err := indexOf(ordered, programKey)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, byte(programOrderedIdx))

		out, err = EncodeCompactU16(out, len(ix.Accounts))
		if err != nil {
			return nil, nil, fmt.Errorf("encode instruction account count: %w", err)
		}
		for _, origIdx := range ix.Accounts {
			if origIdx < 0 || origIdx >= len(msg.Accounts) {
				return nil, nil, fmt.Errorf("txbuilder: instruction account index %d out of range", origIdx)
			}
			orderedIdx, err := indexOf(ordered, msg.Accounts[origIdx].Key)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, byte(orderedIdx))
		}

		out, err = EncodeCompactU16(out, len(ix.Data))
		if err != nil {
			return nil, nil, fmt.Errorf("encode instruction data length: %w", err)
		}
		out = append(out, ix.Data...)
	}

	return out, ordered, nil
}

// Build serializes msg and signs it with signers, producing the final
// transaction: compact-u16(n_sigs) || sigs || message. Exactly one signer
// per signing account must be supplied, in any order: Build matches each
// signing account to its signer by public key and emits the signatures in
// wire order.
func Build(msg Message, signers []types.KeyPair) ([]byte, error) {
	message, ordered, err := serializeMessage(msg)
	if err != nil {
		return nil, err
	}

	var signingKeys []types.PublicKey
	for _, a := range ordered {
		if a.IsSigner {
			signingKeys = append(signingKeys, a.Key)
		} else {
			break
		}
	}
	if len(signingKeys) != len(signers) {
		return nil, fmt.Errorf("txbuilder: %d signing accounts but %d signers supplied", len(signingKeys), len(signers))
	}

	signatures := make([]types.Signature, len(signingKeys))
	for i, key := range signingKeys {
		signer, err := findSigner(signers, key)
		if err != nil {
			return nil, err
		}
		signatures[i] = signer.Sign(message)
	}

	out := make([]byte, 0, len(message)+1+len(signatures)*types.SignatureSize)
	var encErr error
	out, encErr = EncodeCompactU16(out, len(signatures))
	if encErr != nil {
		return nil, fmt.Errorf("encode signature count: %w", encErr)
	}
	for _, sig := range signatures {
		out = append(out, sig[:]...)
	}
	out = append(out, message...)

	if len(out) > maxTransactionSize {
		return nil, fmt.Errorf("txbuilder: serialized transaction is %d bytes, exceeds the %d byte ceiling", len(out), maxTransactionSize)
	}
	return out, nil
}

func findSigner(signers []types.KeyPair, key types.PublicKey) (types.KeyPair, error) {
	for _, s := range signers {
		if s.Public == key {
			return s, nil
		}
	}
	return types.KeyPair{}, fmt.Errorf("txbuilder: no signer supplied for account %s", key.String())
}
