// internal/parser/detector.go
package parser

import (
	"bytes"
	"io"
	"os"
)

type FileType string

const (
	FileTypeFIT     FileType = "fit"
	FileTypeUnknown FileType = "unknown"
)

// fitSignature sits at bytes 8..11 of every FIT header.
var fitSignature = []byte(".FIT")

// DetectFileType reads the header of the file at path.
func DetectFileType(path string) (FileType, error) {
	file, err := os.Open(path)
	if err != nil {
		return FileTypeUnknown, err
	}
	defer file.Close()
	return DetectFileTypeFromReader(file)
}

// DetectFileTypeFromReader consumes at most one FIT header from r.
func DetectFileTypeFromReader(r io.Reader) (FileType, error) {
	header := make([]byte, 14)
	n, err := io.ReadFull(r, header)
	if err != nil && n == 0 {
		return FileTypeUnknown, err
	}
	return DetectFileTypeFromData(header[:n]), nil
}

func DetectFileTypeFromData(data []byte) FileType {
	if len(data) < 12 {
		return FileTypeUnknown
	}
	// The first byte is the header size: 12 for legacy files, 14 with a CRC.
	if size := data[0]; size != 12 && size != 14 {
		return FileTypeUnknown
	}
	if !bytes.Equal(data[8:12], fitSignature) {
		return FileTypeUnknown
	}
	return FileTypeFIT
}
