package wire

import (
	"encoding/binary"
	"fmt"
)

// boundary finds where the next top-level msgpack value ends without
// decoding it. It is resumable: bytes already walked are not walked again,
// so a large value arriving in many small reads costs linear time.
type boundary struct {
	off   int   // bytes of the current value walked so far
	open  []int // items still expected by each open container
	limit int
}

func (b *boundary) reset() {
	b.off = 0
	b.open = b.open[:0]
}

// scan walks buf, which must start at the current value and may have grown
// since the last call. It returns the value's length once it is complete.
func (b *boundary) scan(buf []byte) (n int, complete bool, err error) {
	for {
		head, body, items, ok, err := itemSize(buf[b.off:])
		if err != nil {
			return 0, false, err
		}
		if b.limit > 0 && b.off+head+body > b.limit {
			return 0, false, &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("value needs %d bytes, maximum %d", b.off+head+body, b.limit),
			}
		}
		if !ok {
			return 0, false, nil
		}
		b.off += head + body
		if items > 0 {
			b.open = append(b.open, items)
			continue
		}
		for {
			if len(b.open) == 0 {
				n = b.off
				b.reset()
				return n, true, nil
			}
			top := len(b.open) - 1
			b.open[top]--
			if b.open[top] > 0 {
				break
			}
			b.open = b.open[:top]
		}
	}
}

// itemSize reads one msgpack item header from p. It returns the header
// length, the length of the inline body that follows it and the number of
// child items for arrays and maps. ok is false while p is too short to hold
// the header and its body.
func itemSize(p []byte) (head, body, items int, ok bool, err error) {
	if len(p) == 0 {
		return 0, 0, 0, false, nil
	}
	c := p[0]
	switch {
	case c <= 0x7f, c >= 0xe0:
		return fixed(p, 1)
	case c <= 0x8f:
		return 1, 0, 2 * int(c&0x0f), true, nil
	case c <= 0x9f:
		return 1, 0, int(c & 0x0f), true, nil
	case c <= 0xbf:
		return sized(p, 1, int(c&0x1f))
	}

	switch c {
	case 0xc0, 0xc2, 0xc3:
		return fixed(p, 1)
	case 0xc4, 0xd9:
		return lengthPrefixed(p, 1, 0)
	case 0xc5, 0xda:
		return lengthPrefixed(p, 2, 0)
	case 0xc6, 0xdb:
		return lengthPrefixed(p, 4, 0)
	case 0xc7:
		return lengthPrefixed(p, 1, 1)
	case 0xc8:
		return lengthPrefixed(p, 2, 1)
	case 0xc9:
		return lengthPrefixed(p, 4, 1)
	case 0xca, 0xce, 0xd2:
		return fixed(p, 5)
	case 0xcb, 0xcf, 0xd3:
		return fixed(p, 9)
	case 0xcc, 0xd0:
		return fixed(p, 2)
	case 0xcd, 0xd1:
		return fixed(p, 3)
	case 0xd4:
		return fixed(p, 3)
	case 0xd5:
		return fixed(p, 4)
	case 0xd6:
		return fixed(p, 6)
	case 0xd7:
		return fixed(p, 10)
	case 0xd8:
		return fixed(p, 18)
	case 0xdc:
		return counted(p, 2, 1)
	case 0xdd:
		return counted(p, 4, 1)
	case 0xde:
		return counted(p, 2, 2)
	case 0xdf:
		return counted(p, 4, 2)
	}
	return 0, 0, 0, false, fmt.Errorf("invalid msgpack code 0x%02x", c)
}

func fixed(p []byte, size int) (int, int, int, bool, error) {
	return sized(p, size, 0)
}

// sized reports a known header and body length; ok waits for both to be
// buffered so the caller can still check the length against its limit.
func sized(p []byte, head, body int) (int, int, int, bool, error) {
	return head, body, 0, len(p) >= head+body, nil
}

// lengthPrefixed handles str, bin and ext items: a width-byte length
// followed, for ext, by a one-byte type.
func lengthPrefixed(p []byte, width, extra int) (int, int, int, bool, error) {
	head := 1 + width + extra
	if len(p) < 1+width {
		return 0, 0, 0, false, nil
	}
	return sized(p, head, readLength(p[1:1+width]))
}

// counted handles array16/32 and map16/32 headers.
func counted(p []byte, width, perEntry int) (int, int, int, bool, error) {
	if len(p) < 1+width {
		return 0, 0, 0, false, nil
	}
	return 1 + width, 0, perEntry * readLength(p[1:1+width]), true, nil
}

func readLength(b []byte) int {
	switch len(b) {
	case 1:
		return int(b[0])
	case 2:
		return int(binary.BigEndian.Uint16(b))
	default:
		return int(binary.BigEndian.Uint32(b))
	}
}
