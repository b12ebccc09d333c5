// Package bufpool provides sized byte-slice reuse for media packet payloads.
package bufpool

import (
	"sync"

	"github.com/alxayo/mediarouter/internal/mediarouter/packet"
)

var sizeClasses = []int{256, 1500, 8192, 65536, 262144}

type classPool struct {
	size int
	pool *sync.Pool
}

// Pool hands out reusable byte slices sized to the nearest predefined class,
// reducing GC churn for the high-rate packet payload allocation on the
// ingress path.
type Pool struct {
	pools []classPool
}

var defaultPool = New()

// Get acquires a buffer from the package-level default pool.
func Get(size int) []byte {
	return defaultPool.Get(size)
}

// Put releases a buffer back to the package-level default pool.
func Put(buf []byte) {
	defaultPool.Put(buf)
}

// New creates a buffer pool with size classes tailored to typical NALU/ADTS
// frame sizes (small audio frames up through multi-slice keyframes).
func New() *Pool {
	pools := make([]classPool, len(sizeClasses))
	for i, classSize := range sizeClasses {
		size := classSize
		pools[i] = classPool{
			size: size,
			pool: &sync.Pool{
				New: func() any {
					return make([]byte, size)
				},
			},
		}
	}
	return &Pool{pools: pools}
}

// Get returns a byte slice whose length matches size and whose capacity is
// the nearest predefined size class. Requests larger than the largest class
// allocate a fresh, unpooled slice.
func (p *Pool) Get(size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}

	for i := range p.pools {
		class := &p.pools[i]
		if size <= class.size {
			buf := class.pool.Get().([]byte)
			return buf[:size]
		}
	}

	return make([]byte, size)
}

// Put returns buf to the pool if its capacity matches a predefined size
// class. Non-matching buffers are discarded. The buffer is cleared before
// reuse so payload bytes never leak across streams.
func (p *Pool) Put(buf []byte) {
	if p == nil || buf == nil {
		return
	}

	capBuf := cap(buf)
	for i := range p.pools {
		class := &p.pools[i]
		if capBuf == class.size {
			full := buf[:class.size]
			clear(full)
			class.pool.Put(full)
			return
		}
	}
}

// PayloadSizeHint estimates a reasonable buffer size for a packet given its
// media type and kind, so ingest connectors don't have to hand-pick raw byte
// counts per codec (spec §3: MediaPacket.Payload is a reference-counted
// buffer whose allocation is a caller concern). SequenceHeader records are a
// few dozen bytes (SPS/PPS or ASC); audio access units are small, fitting the
// smallest class; video NALUs default to the next class up, roughly an
// Ethernet MTU's worth, so a typical inter-frame unit needs no reallocation.
func PayloadSizeHint(media packet.MediaType, kind packet.Type) int {
	switch {
	case kind == packet.SequenceHeader:
		return sizeClasses[0]
	case media == packet.Audio:
		return sizeClasses[0]
	case media == packet.Video:
		return sizeClasses[1]
	default:
		return sizeClasses[1]
	}
}

// GetForPacket acquires a buffer sized via PayloadSizeHint (growing to fit n
// if the actual payload is larger than the hint, e.g. a keyframe) and returns
// it truncated to exactly n bytes.
func (p *Pool) GetForPacket(media packet.MediaType, kind packet.Type, n int) []byte {
	hint := PayloadSizeHint(media, kind)
	if n > hint {
		hint = n
	}
	return p.Get(hint)[:n]
}

// GetForPacket acquires from the package-level default pool. See Pool.GetForPacket.
func GetForPacket(media packet.MediaType, kind packet.Type, n int) []byte {
	return defaultPool.GetForPacket(media, kind, n)
}
