// Package escpos converts the receipt markup understood by the printer
// client into ESC/POS byte streams.
package escpos

// ESC/POS control sequences emitted by Encode.
var (
	Initialize  = []byte{0x1B, 0x40}       // ESC @
	PartialCut  = []byte{0x1D, 0x56, 0x00} // GS V 0
	AlignCenter = []byte{0x1B, 0x61, 0x31} // ESC a '1'
	AlignLeft   = []byte{0x1B, 0x61, 0x30} // ESC a '0'
	SizeDouble  = []byte{0x1B, 0x21, 0x30} // ESC ! 0x30, double width and height
	SizeNormal  = []byte{0x1B, 0x21, 0x00} // ESC ! 0
	BoldOn      = []byte{0x1B, 0x45, 0x31} // ESC E '1'
	BoldOff     = []byte{0x1B, 0x45, 0x30} // ESC E '0'
)

// Markup tags recognised by Encode.
const (
	TagCenter    = "[C]"
	TagLeft      = "[L]"
	TagFontBig   = "<font size='big'>"
	TagFontClose = "</font>"
	TagBoldOpen  = "<b>"
	TagBoldClose = "</b>"
)
