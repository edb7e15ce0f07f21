package dex

import (
	"encoding/binary"
	"fmt"

	"github.com/synthfi-arb/arb/pkg/types"
)

// slabNodeSize is the fixed width of every tagged node in a slab pool.
const slabNodeSize = 72

// slab node tags (§6.3).
const (
	nodeTagUninitialized uint32 = 0
	nodeTagInner         uint32 = 1
	nodeTagLeaf          uint32 = 2
	nodeTagFree          uint32 = 3
	nodeTagLastFree      uint32 = 4
)

// SlabHeader is the 40-byte header preceding the node pool.
type SlabHeader struct {
	AccountFlags   uint64
	BumpIndex      uint64
	FreeListLength uint64
	FreeListHead   uint32
	RootNode       uint32
	LeafCount      uint64
}

const slabHeaderSize = 40

// SlabLeaf is one resting order: (order_id_key, quantity, owner,
// client_order_id) per §4.7.2.
type SlabLeaf struct {
	OwnerSlot     uint8
	FeeTier       uint8
	SequenceNumber uint64
	LimitPrice    uint64
	Owner         types.PublicKey
	Quantity      uint64
	ClientOrderID uint64
}

// Side returns the leaf's implied side: sequence numbers above the signed
// 64-bit max are bids (the reference encoding bit-flips bid sequence
// numbers so bids sort in the same direction as asks).
func (l SlabLeaf) Side() types.Side {
	if l.SequenceNumber > 1<<63-1 {
		return types.SideBid
	}
	return types.SideAsk
}

type slabInner struct {
	Children [2]uint32
}

// DecodeSlabHeader decodes the 40-byte header at the front of a bids/asks
// account.
func DecodeSlabHeader(data []byte) (SlabHeader, error) {
	if len(data) < slabHeaderSize {
		return SlabHeader{}, fmt.Errorf("dex slab: header truncated, have %d bytes, want %d", len(data), slabHeaderSize)
	}
	var h SlabHeader
	h.AccountFlags = binary.LittleEndian.Uint64(data[0:8])
	h.BumpIndex = binary.LittleEndian.Uint64(data[8:16])
	h.FreeListLength = binary.LittleEndian.Uint64(data[16:24])
	h.FreeListHead = binary.LittleEndian.Uint32(data[24:28])
	h.RootNode = binary.LittleEndian.Uint32(data[28:32])
	h.LeafCount = binary.LittleEndian.Uint64(data[32:40])
	return h, nil
}

// nodeAt returns the node's tag and its 72-byte body.
func nodeAt(data []byte, index uint32) (uint32, []byte, error) {
	offset := slabHeaderSize + int(index)*slabNodeSize
	if offset+slabNodeSize > len(data) {
		return 0, nil, fmt.Errorf("dex slab: node index %d out of range", index)
	}
	body := data[offset : offset+slabNodeSize]
	tag := binary.LittleEndian.Uint32(body[0:4])
	return tag, body, nil
}

func decodeInner(body []byte) slabInner {
	return slabInner{
		Children: [2]uint32{
			binary.LittleEndian.Uint32(body[8:12]),
			binary.LittleEndian.Uint32(body[12:16]),
		},
	}
}

func decodeLeaf(body []byte) (SlabLeaf, error) {
	var l SlabLeaf
	l.OwnerSlot = body[4]
	l.FeeTier = body[5]
	// body[6:8] is padding.
	l.SequenceNumber = binary.LittleEndian.Uint64(body[8:16])
	l.LimitPrice = binary.LittleEndian.Uint64(body[16:24])
	owner, err := types.NewHashFromBytes(body[24:56])
	if err != nil {
		return SlabLeaf{}, err
	}
	l.Owner = owner
	l.Quantity = binary.LittleEndian.Uint64(body[56:64])
	l.ClientOrderID = binary.LittleEndian.Uint64(body[64:72])
	return l, nil
}

// Leaves walks the slab's tree with an explicit stack (not recursion, to
// bound call depth per the design doc's note on tree traversal) and
// returns every leaf node in the tree.
func Leaves(data []byte, header SlabHeader) ([]SlabLeaf, error) {
	if header.LeafCount == 0 {
		return nil, nil
	}
	leaves := make([]SlabLeaf, 0, header.LeafCount)
	stack := []uint32{header.RootNode}

	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		tag, body, err := nodeAt(data, idx)
		if err != nil {
			return nil, err
		}
		switch tag {
		case nodeTagInner:
			inner := decodeInner(body)
			stack = append(stack, inner.Children[0], inner.Children[1])
		case nodeTagLeaf:
			leaf, err := decodeLeaf(body)
			if err != nil {
				return nil, err
			}
			leaves = append(leaves, leaf)
		case nodeTagFree, nodeTagLastFree, nodeTagUninitialized:
			// Not part of the live tree.
		default:
			return nil, fmt.Errorf("dex slab: unknown node tag %d at index %d", tag, idx)
		}
	}
	return leaves, nil
}

// LeavesToLevels converts decoded leaves into price/quantity levels using
// the pair's lot-size scaling, merging equal prices and sorting in the
// side's order (bids descending, asks ascending).
func LeavesToLevels(leaves []SlabLeaf, side types.Side, baseLotSize, quoteLotSize int64, baseDecimals, quoteDecimals int) []types.Level {
	byPrice := make(map[uint64]uint64)
	order := make([]uint64, 0, len(leaves))
	for _, l := range leaves {
		if _, ok := byPrice[l.LimitPrice]; !ok {
			order = append(order, l.LimitPrice)
		}
		byPrice[l.LimitPrice] += l.Quantity
	}

	levels := make([]types.Level, 0, len(order))
	for _, priceLots := range order {
		price := lotsToPrice(priceLots, quoteLotSize, baseLotSize, quoteDecimals, baseDecimals)
		qty := lotsToQuantity(byPrice[priceLots], baseLotSize, baseDecimals)
		levels = append(levels, types.Level{Price: price, Quantity: qty})
	}

	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			swap := false
			if side == types.SideBid {
				swap = levels[j].Price.GreaterThan(levels[j-1].Price)
			} else {
				swap = levels[j].Price.LessThan(levels[j-1].Price)
			}
			if !swap {
				break
			}
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
	return levels
}
