package snapshot

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/dchest/siphash"
	"github.com/spaolacci/murmur3"
)

// DefaultBloomBits 每层布隆过滤器的位数
const DefaultBloomBits = 1 << 16

const (
	bloomHashes = 4
	sipK0       = 0x736e617073686f74 // "snapshot"
	sipK1       = 0x6c61796572626c6d // "layerblm"
)

// layerBloom 层布隆过滤器：murmur3 + siphash 双重哈希
// 子层的过滤器包含父层的全部位，未命中即可确定整条祖先链都没有该 key
type layerBloom struct {
	bits *bitset.BitSet
	m    uint64
}

func newLayerBloom(m uint) *layerBloom {
	if m == 0 {
		m = DefaultBloomBits
	}
	return &layerBloom{bits: bitset.New(m), m: uint64(m)}
}

func (b *layerBloom) positions(key []byte, fn func(uint)) {
	h1 := murmur3.Sum64(key)
	h2 := siphash.Hash(sipK0, sipK1, key) | 1
	for i := uint64(0); i < bloomHashes; i++ {
		fn(uint((h1 + i*h2) % b.m))
	}
}

func (b *layerBloom) add(key []byte) {
	b.positions(key, func(p uint) { b.bits.Set(p) })
}

func (b *layerBloom) mayContain(key []byte) bool {
	hit := true
	b.positions(key, func(p uint) {
		if !b.bits.Test(p) {
			hit = false
		}
	})
	return hit
}

// merge 并入父层
func (b *layerBloom) merge(parent *layerBloom) {
	if parent != nil && parent.m == b.m {
		b.bits.InPlaceUnion(parent.bits)
	}
}
