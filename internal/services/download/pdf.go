package download

import "bytes"

// pdfMagic is the fixed 4-byte signature identifying a PDF payload
var pdfMagic = []byte("%PDF")

// IsPDF reports whether the buffer starts with the PDF magic header. Guards
// against redirected-to-login HTML masquerading as the expected resource.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, pdfMagic)
}
