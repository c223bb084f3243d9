package canard

import "github.com/sigurn/crc16"

// CRC is the running state of the CRC-16/CCITT-FALSE used to protect
// multi-frame transfers. The zero value is not a valid initial state, use NewCRC.
//
// Feeding the big-endian CRC of some data right after that data
// leaves the accumulator at zero, which is how receivers check transfers.
type CRC uint16

var crcTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

func newCRC() CRC { return CRC(crc16.Init(crcTable)) }

// NewCRC returns the initial CRC state.
func NewCRC() CRC { return newCRC() }

// Add feeds data into the CRC and returns the updated state.
func (c CRC) Add(data []byte) CRC {
	return CRC(crc16.Update(uint16(c), data, crcTable))
}

// AddByte feeds a single byte into the CRC.
func (c CRC) AddByte(b byte) CRC {
	return c.Add([]byte{b})
}

// Value returns the final CRC value. CCITT-FALSE has no output transform.
func (c CRC) Value() uint16 {
	return crc16.Complete(uint16(c), crcTable)
}
