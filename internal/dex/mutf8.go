package dex

// utf16Units decodes a MUTF-8 byte string into UTF-16 code units. Malformed
// sequences decode byte by byte.
func utf16Units(s string) []uint16 {
	out := make([]uint16, 0, len(s))
	for i := 0; i < len(s); {
		b := s[i]
		switch {
		case b < 0x80:
			out = append(out, uint16(b))
			i++
		case b&0xE0 == 0xC0 && i+1 < len(s):
			out = append(out, uint16(b&0x1F)<<6|uint16(s[i+1]&0x3F))
			i += 2
		case b&0xF0 == 0xE0 && i+2 < len(s):
			out = append(out, uint16(b&0x0F)<<12|uint16(s[i+1]&0x3F)<<6|uint16(s[i+2]&0x3F))
			i += 3
		default:
			out = append(out, uint16(b))
			i++
		}
	}
	return out
}

// utf16Len returns the number of UTF-16 code units in a MUTF-8 string.
func utf16Len(s string) int {
	n := 0
	for i := 0; i < len(s); {
		b := s[i]
		switch {
		case b < 0x80:
			i++
		case b&0xE0 == 0xC0 && i+1 < len(s):
			i += 2
		case b&0xF0 == 0xE0 && i+2 < len(s):
			i += 3
		default:
			i++
		}
		n++
	}
	return n
}

// compareMUTF8 orders strings by UTF-16 code unit, the order the runtime
// requires for string_ids.
func compareMUTF8(a, b string) int {
	// ASCII fast path: identical byte order.
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] && a[i] < 0x80 {
		i++
	}
	if (i == len(a) || a[i] < 0x80) && (i == len(b) || b[i] < 0x80) {
		switch {
		case i == len(a) && i == len(b):
			return 0
		case i == len(a):
			return -1
		case i == len(b):
			return 1
		case a[i] < b[i]:
			return -1
		default:
			return 1
		}
	}
	ua, ub := utf16Units(a[i:]), utf16Units(b[i:])
	for j := 0; j < len(ua) && j < len(ub); j++ {
		if ua[j] != ub[j] {
			if ua[j] < ub[j] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	}
	return 0
}
