package zmodem

import "hash/crc32"

// CRC-16/ARC as used by BIN16 headers and CRC-16 subpackets: polynomial
// 0x1021, initial value 0, no input or output reflection, no final xor.
// This table is generated the same way lrzsz's updcrc16 table is: by
// running the polynomial division bit-by-bit for each possible byte value.
var crc16Table = func() [256]uint16 {
	var t [256]uint16
	const poly = 0x1021
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return t
}()

// crc16Update folds data into the running CRC-16, table-driven.
func crc16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// crc16Calc computes the transmitted CRC-16 of data. crc16Update is the
// direct (non-augmented) table form, so its result is already the final
// value: no trailing zero bytes are fed in, and the receiver's
// crc16Verify(data||crc) sees zero.
func crc16Calc(data []byte) uint16 {
	return crc16Update(0, data)
}

// crc16Verify reports whether data (payload followed by its big-endian
// CRC-16) is internally consistent.
func crc16Verify(data []byte) bool {
	return crc16Update(0, data) == 0
}

// crc32Update folds data into the running CRC-32/IEEE (0xEDB88320
// reflected, init/xor-out 0xFFFFFFFF). crc32.Update complements its input
// and output on every call, so passing the previous call's result back in
// continues the same logical checksum — exactly Go's stdlib IEEE table,
// so no hand-rolled implementation is carried here.
func crc32Update(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}

// crc32Calc computes the ZMODEM CRC-32 of data (the IEEE CRC-32 of data).
func crc32Calc(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// crc32Verify reports whether data (payload followed by its little-endian
// CRC-32, as crc32Calc computes it) is internally consistent.
// ZMODEM transmits CRC-32 values complemented, so the register over
// payload+crc converges to 0xDEBB20E3 rather than zero; ChecksumIEEE
// complements that once more, giving the constant 0x2144DF1C.
func crc32Verify(data []byte) bool {
	const residue = 0x2144DF1C
	return crc32.ChecksumIEEE(data) == residue
}
