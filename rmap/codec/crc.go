package codec

// crcTable is the RMAP CRC-8 (x^8 + x^2 + x + 1) table in reflected form
var crcTable = makeCRCTable()

func makeCRCTable() (table [256]byte) {
	for i := 0; i < 256; i++ {
		crc := byte(i)
		for bit := 0; bit < 8; bit++ {
			if crc&0x01 != 0 {
				crc = (crc >> 1) ^ 0xE0
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC8 computes the RMAP checksum of data
func CRC8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc = crcTable[crc^b]
	}
	return crc
}
