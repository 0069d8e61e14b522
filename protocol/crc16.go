package protocol

// CRC16 is the CCITT CRC used on payloads: polynomial 0x1021, seed 0xFFFF,
// no reflection and no final xor.
type CRC16 struct {
	crc uint16
}

var crc16Table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		c := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if c&0x8000 != 0 {
				c = c<<1 ^ 0x1021
			} else {
				c <<= 1
			}
		}
		crc16Table[i] = c
	}
}

// NewCRC16 returns a seeded CRC.
func NewCRC16() *CRC16 {
	return &CRC16{crc: 0xFFFF}
}

// Reset seeds the CRC again.
func (c *CRC16) Reset() {
	c.crc = 0xFFFF
}

// Update feeds data into the CRC.
func (c *CRC16) Update(data []byte) {
	crc := c.crc
	for _, b := range data {
		crc = crc<<8 ^ crc16Table[byte(crc>>8)^b]
	}
	c.crc = crc
}

// Sum returns the current value.
func (c *CRC16) Sum() uint16 {
	return c.crc
}

// Checksum16 computes the CRC of the concatenation of bufs.
func Checksum16(bufs ...[]byte) uint16 {
	c := NewCRC16()
	for _, b := range bufs {
		c.Update(b)
	}
	return c.Sum()
}
