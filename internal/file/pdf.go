package file

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// MaxDocumentSize is the largest file the Bot API lets a bot download.
const MaxDocumentSize = 20 << 20

// CountPages returns the page count of a PDF. The parser panics on some
// malformed inputs, so those are turned into errors.
func CountPages(data []byte) (pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parse pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open pdf: %w", err)
	}
	return reader.NumPage(), nil
}

// LooksLikePDF checks the magic header.
func LooksLikePDF(data []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), []byte("%PDF-"))
}
