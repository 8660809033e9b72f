package tiff

const (
	lzwClear    = 256
	lzwEOI      = 257
	lzwFirst    = 258
	lzwMinWidth = 9
	lzwMaxWidth = 12
	lzwMaxCode  = 1<<lzwMaxWidth - 1
)

// lzwWriter packs codes most significant bit first.
type lzwWriter struct {
	out   []byte
	bits  uint32
	nbits uint
	width uint
}

func (w *lzwWriter) put(code int) {
	w.bits = w.bits<<w.width | uint32(code)
	w.nbits += w.width
	for w.nbits >= 8 {
		w.out = append(w.out, byte(w.bits>>(w.nbits-8)))
		w.nbits -= 8
	}
}

func (w *lzwWriter) flush() {
	if w.nbits > 0 {
		w.out = append(w.out, byte(w.bits<<(8-w.nbits)))
		w.nbits = 0
	}
}

// lzwEncode compresses src with the TIFF flavour of LZW: MSB-first codes, 8-bit literals and
// the code width growing one code early, as libtiff writes it. The output starts with a clear
// code and ends with an end-of-information code.
func lzwEncode(src []byte) []byte {
	w := &lzwWriter{out: make([]byte, 0, len(src)/2+16), width: lzwMinWidth}
	table := make(map[uint32]uint16, lzwMaxCode)
	next := lzwFirst
	maxCode := 1<<lzwMinWidth - 1

	w.put(lzwClear)
	if len(src) == 0 {
		w.put(lzwEOI)
		w.flush()
		return w.out
	}

	prefix := int(src[0])
	for _, b := range src[1:] {
		key := uint32(prefix)<<8 | uint32(b)
		if code, ok := table[key]; ok {
			prefix = int(code)
			continue
		}
		w.put(prefix)
		if next > lzwMaxCode-1 {
			// table full
			w.put(lzwClear)
			clear(table)
			next = lzwFirst
			w.width = lzwMinWidth
			maxCode = 1<<lzwMinWidth - 1
		} else {
			table[key] = uint16(next)
			if next == maxCode {
				w.width++
				maxCode = 1<<w.width - 1
			}
			next++
		}
		prefix = int(b)
	}

	w.put(prefix)
	next++
	if next == lzwMaxCode-1 {
		w.put(lzwClear)
		w.width = lzwMinWidth
	} else if next > maxCode && w.width < lzwMaxWidth {
		w.width++
	}
	w.put(lzwEOI)
	w.flush()
	return w.out
}
