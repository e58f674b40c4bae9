// Package bsc implements the ERC host link: a Binary Synchronous
// Communications style framed protocol at 9600 baud with SOH/STX block
// framing, alternating ACK0/ACK1 acknowledgement and EOT terminated
// transactions.
package bsc

// Control characters of the link
const (
	SOH byte = 0x01 // start of heading
	STX byte = 0x02 // start of text
	ETX byte = 0x03 // end of text, last block of a message
	EOT byte = 0x04 // end of transmission
	ENQ byte = 0x05 // enquiry
	DLE byte = 0x10 // data link escape
	NAK byte = 0x15 // negative acknowledge
	ETB byte = 0x17 // end of block, more blocks follow
)

// Multi-byte control sequences
var (
	Ack0 = []byte{DLE, 0x30} // even acknowledgment
	Ack1 = []byte{DLE, 0x31} // odd acknowledgment
	Wack = []byte{DLE, 0x6B} // wait acknowledgement
	Rvi  = []byte{DLE, 0x7C} // reverse interrupt
	Ttd  = []byte{STX, ENQ}  // temporary transmission delay
)

var controlNames = map[string]string{
	string(SOH):  "SOH",
	string(STX):  "STX",
	string(ETX):  "ETX",
	string(EOT):  "EOT",
	string(ENQ):  "ENQ",
	string(DLE):  "DLE",
	string(NAK):  "NAK",
	string(ETB):  "ETB",
	string(Ack0): "ACK0",
	string(Ack1): "ACK1",
	string(Wack): "WACK",
	string(Rvi):  "RVI",
	string(Ttd):  "TTD",
}

// ControlName reports whether data is exactly one of the named control
// sequences.
func ControlName(data []byte) (string, bool) {
	name, ok := controlNames[string(data)]
	return name, ok
}
