package packfile

import (
	"github.com/distr1/dvcs/internal/gerr"
)

// applyDelta reconstructs a target buffer from a base buffer and a
// delta instruction stream per spec: source-size varint, target-size
// varint, then a sequence of COPY (MSB=1) and INSERT (MSB=0) opcodes.
func applyDelta(base, delta []byte) ([]byte, error) {
	pos := 0
	readVarint := func() (int64, bool) {
		if pos >= len(delta) {
			return 0, false
		}
		b := delta[pos]
		pos++
		v := int64(b & 0x7f)
		shift := uint(7)
		for b&0x80 != 0 {
			if pos >= len(delta) {
				return 0, false
			}
			b = delta[pos]
			pos++
			v |= int64(b&0x7f) << shift
			shift += 7
		}
		return v, true
	}

	srcSize, ok := readVarint()
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "delta: truncated source-size field")
	}
	if srcSize != int64(len(base)) {
		return nil, gerr.New(gerr.Corrupt, "delta: source size %d does not match base length %d", srcSize, len(base))
	}
	targetSize, ok := readVarint()
	if !ok {
		return nil, gerr.New(gerr.Corrupt, "delta: truncated target-size field")
	}

	out := make([]byte, 0, targetSize)
	for pos < len(delta) {
		op := delta[pos]
		pos++
		if op&0x80 != 0 {
			// COPY: up to 4 offset bytes then up to 3 length bytes,
			// present according to the low 7 bits of op.
			var copyOff, copyLen int64
			for i := uint(0); i < 4; i++ {
				if op&(1<<i) != 0 {
					if pos >= len(delta) {
						return nil, gerr.New(gerr.Corrupt, "delta: truncated copy offset")
					}
					copyOff |= int64(delta[pos]) << (8 * i)
					pos++
				}
			}
			for i := uint(0); i < 3; i++ {
				if op&(1<<(4+i)) != 0 {
					if pos >= len(delta) {
						return nil, gerr.New(gerr.Corrupt, "delta: truncated copy length")
					}
					copyLen |= int64(delta[pos]) << (8 * i)
					pos++
				}
			}
			if copyLen == 0 {
				copyLen = 0x10000
			}
			if copyOff < 0 || copyLen < 0 || copyOff+copyLen > int64(len(base)) {
				return nil, gerr.New(gerr.Corrupt, "delta: copy [%d,%d) out of bounds for base of length %d", copyOff, copyOff+copyLen, len(base))
			}
			out = append(out, base[copyOff:copyOff+copyLen]...)
		} else if op != 0 {
			// INSERT: op itself is the literal byte count.
			n := int(op)
			if pos+n > len(delta) {
				return nil, gerr.New(gerr.Corrupt, "delta: truncated insert of %d bytes", n)
			}
			out = append(out, delta[pos:pos+n]...)
			pos += n
		} else {
			return nil, gerr.New(gerr.Corrupt, "delta: reserved opcode 0")
		}
	}

	if int64(len(out)) != targetSize {
		return nil, gerr.New(gerr.Corrupt, "delta: result length %d does not match declared target size %d", len(out), targetSize)
	}
	return out, nil
}
