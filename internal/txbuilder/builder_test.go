package txbuilder

import (
	"bytes"
	"testing"

	"github.com/synthfi-arb/arb/pkg/types"
)

func mustKeyPair(t *testing.T) types.KeyPair {
	t.Helper()
	kp, err := types.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	return kp
}

func mustPublicKey(t *testing.T) types.PublicKey {
	t.Helper()
	return mustKeyPair(t).Public
}

func transferInstructionData(lamports uint64) []byte {
	data := make([]byte, 9)
	data[0] = 2 // transfer opcode, arbitrary for this exercise's purposes
	for i := 0; i < 8; i++ {
		data[1+i] = byte(lamports >> (8 * i))
	}
	return data
}

func buildTransferMessage(blockhash types.Hash, kpA, kpB types.KeyPair, pkC, pkD types.PublicKey) Message {
	accounts := []AccountMeta{
		{Key: kpA.Public, IsSigner: true, IsWritable: true},
		{Key: kpB.Public, IsSigner: true, IsWritable: true},
		{Key: pkC, IsSigner: false, IsWritable: true},
		{Key: pkD, IsSigner: false, IsWritable: false},
	}
	return Message{
		Accounts:        accounts,
		RecentBlockhash: blockhash,
		Instructions: []Instruction{
			{
				ProgramIDIndex: 2, // pkC acts as the "program" for this synthetic instruction
				Accounts:       []int{0, 1},
				Data:           transferInstructionData(1_000_000),
			},
		},
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	kpA := mustKeyPair(t)
	kpB := mustKeyPair(t)
	pkC := mustPublicKey(t)
	pkD := mustPublicKey(t)
	var blockhash types.Hash
	for i := range blockhash {
		blockhash[i] = byte(i)
	}

	msg := buildTransferMessage(blockhash, kpA, kpB, pkC, pkD)
	tx1, err := Build(msg, []types.KeyPair{kpA, kpB})
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	tx2, err := Build(msg, []types.KeyPair{kpA, kpB})
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !bytes.Equal(tx1, tx2) {
		t.Fatal("two builds with identical inputs produced different bytes")
	}
}

func TestBuildFirstSignatureVerifies(t *testing.T) {
	kpA := mustKeyPair(t)
	kpB := mustKeyPair(t)
	pkC := mustPublicKey(t)
	pkD := mustPublicKey(t)
	var blockhash types.Hash
	for i := range blockhash {
		blockhash[i] = byte(i)
	}

	msg := buildTransferMessage(blockhash, kpA, kpB, pkC, pkD)
	tx, err := Build(msg, []types.KeyPair{kpA, kpB})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	nSigs, consumed, err := DecodeCompactU16(tx)
	if err != nil {
		t.Fatalf("decode sig count: %v", err)
	}
	if nSigs != 2 {
		t.Fatalf("nSigs = %d, want 2", nSigs)
	}
	messageStart := consumed + nSigs*types.SignatureSize
	message := tx[messageStart:]

	var firstSig types.Signature
	copy(firstSig[:], tx[consumed:consumed+types.SignatureSize])

	if !firstSig.Verify(kpA.Public, message) {
		t.Fatal("first signature does not verify against the first signing account (kpA) over the message")
	}
}

func TestBuildAccountOrdering(t *testing.T) {
	kpA := mustKeyPair(t)
	kpB := mustKeyPair(t)
	pkC := mustPublicKey(t)
	pkD := mustPublicKey(t)
	var blockhash types.Hash

	msg := buildTransferMessage(blockhash, kpA, kpB, pkC, pkD)
	_, ordered, err := serializeMessage(msg)
	if err != nil {
		t.Fatalf("serializeMessage: %v", err)
	}
	want := []types.PublicKey{kpA.Public, kpB.Public, pkC, pkD}
	if len(ordered) != len(want) {
		t.Fatalf("ordered has %d accounts, want %d", len(ordered), len(want))
	}
	for i, a := range ordered {
		if a.Key != want[i] {
			t.Fatalf("account %d = %s, want %s", i, a.Key, want[i])
		}
	}
}

func TestBuildRejectsOversizeTransaction(t *testing.T) {
	kpA := mustKeyPair(t)
	accounts := []AccountMeta{{Key: kpA.Public, IsSigner: true, IsWritable: true}}
	var blockhash types.Hash

	instructions := make([]Instruction, 0, 200)
	for i := 0; i < 200; i++ {
		instructions = append(instructions, Instruction{
			ProgramIDIndex: 0,
			Accounts:       []int{0},
			Data:           bytes.Repeat([]byte{0xAB}, 32),
		})
	}
	msg := Message{Accounts: accounts, RecentBlockhash: blockhash, Instructions: instructions}

	_, err := Build(msg, []types.KeyPair{kpA})
	if err == nil {
		t.Fatal("expected size-ceiling error, got nil")
	}
}

func TestEncodeCompactU16SampleVectors(t *testing.T) {
	cases := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xFF, 0x7F}},
	}
	for _, c := range cases {
		got, err := EncodeCompactU16(nil, c.n)
		if err != nil {
			t.Fatalf("n=%d: %v", c.n, err)
		}
		if !bytes.Equal(got, c.want) {
			t.Fatalf("n=%d: got %x, want %x", c.n, got, c.want)
		}
	}
}
