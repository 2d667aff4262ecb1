// Package metadata copies embedded metadata between encoded images. Between
// images of the same container, PNG ancillary chunks (text, ICC profile, EXIF,
// physical size) and JPEG APP1/APP2 segments (EXIF, XMP, ICC) are copied
// verbatim. Across containers, including WebP, the EXIF and ICC payloads are
// converted.
package metadata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/h2non/filetype"
)

// ErrUnsupported is returned for containers the package cannot read or write
var ErrUnsupported = errors.New("metadata: unsupported format")

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

// pngKeep lists the chunk types carried over from a PNG source
var pngKeep = map[string]bool{
	"tEXt": true,
	"zTXt": true,
	"iTXt": true,
	"iCCP": true,
	"pHYs": true,
	"eXIf": true,
}

// Block is the metadata extracted from one encoded image. Raw holds complete
// chunks (PNG) or segments (JPEG) exactly as found in the source.
type Block struct {
	Format string
	Raw    [][]byte
}

// Empty reports whether there is nothing to copy
func (b Block) Empty() bool { return len(b.Raw) == 0 }

// Format returns "png", "jpg" or the sniffed extension of data
func Format(data []byte) string {
	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		return ""
	}
	return kind.Extension
}

// Extract collects the metadata blocks of a PNG or JPEG image
func Extract(data []byte) (Block, error) {
	switch f := Format(data); f {
	case "png":
		raw, err := pngChunks(data)
		return Block{Format: f, Raw: raw}, err
	case "jpg":
		raw, err := jpegSegments(data)
		return Block{Format: f, Raw: raw}, err
	default:
		return Block{}, fmt.Errorf("%w: %q", ErrUnsupported, f)
	}
}

// Inject writes b into data, which must be of the same format. The blocks are
// placed right after the PNG header chunk or the JPEG start marker.
func Inject(data []byte, b Block) ([]byte, error) {
	if b.Empty() {
		return data, nil
	}
	if f := Format(data); f != b.Format {
		return nil, fmt.Errorf("%w: cannot copy %s metadata into %q", ErrUnsupported, b.Format, f)
	}

	var at int
	switch b.Format {
	case "png":
		// signature, then IHDR: length, type, 13 bytes of data, crc
		at = len(pngSignature) + 4 + 4 + 13 + 4
		if len(data) < at || string(data[len(pngSignature)+4:len(pngSignature)+8]) != "IHDR" {
			return nil, errors.New("metadata: PNG does not start with IHDR")
		}
	case "jpg":
		at = 2
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, b.Format)
	}

	var out bytes.Buffer
	out.Grow(len(data) + totalLen(b.Raw))
	out.Write(data[:at])
	for _, r := range b.Raw {
		out.Write(r)
	}
	out.Write(data[at:])
	return out.Bytes(), nil
}

func totalLen(raw [][]byte) int {
	n := 0
	for _, r := range raw {
		n += len(r)
	}
	return n
}

func pngChunks(data []byte) ([][]byte, error) {
	if !bytes.HasPrefix(data, pngSignature) {
		return nil, errors.New("metadata: missing PNG signature")
	}
	var out [][]byte
	pos := len(pngSignature)
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos:]))
		typ := string(data[pos+4 : pos+8])
		end := pos + 12 + length
		if length < 0 || end > len(data) {
			return nil, fmt.Errorf("metadata: truncated PNG chunk %q", typ)
		}
		if pngKeep[typ] {
			out = append(out, append([]byte(nil), data[pos:end]...))
		}
		if typ == "IEND" {
			break
		}
		pos = end
	}
	return out, nil
}

func jpegSegments(data []byte) ([][]byte, error) {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, errors.New("metadata: missing JPEG start marker")
	}
	var out [][]byte
	pos := 2
	for pos+4 <= len(data) {
		if data[pos] != 0xFF {
			return nil, fmt.Errorf("metadata: bad JPEG marker at %d", pos)
		}
		marker := data[pos+1]
		if marker == 0xFF {
			// fill byte
			pos++
			continue
		}
		// start of scan: no more header segments
		if marker == 0xDA || marker == 0xD9 {
			break
		}
		length := int(binary.BigEndian.Uint16(data[pos+2:]))
		end := pos + 2 + length
		if length < 2 || end > len(data) {
			return nil, fmt.Errorf("metadata: truncated JPEG segment 0x%X", marker)
		}
		if marker == 0xE1 || marker == 0xE2 {
			out = append(out, append([]byte(nil), data[pos:end]...))
		}
		pos = end
	}
	return out, nil
}
