package metadata

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sort"

	"github.com/chai2010/webp"
)

var (
	exifHeader = []byte("Exif\x00\x00")
	iccHeader  = []byte("ICC_PROFILE\x00")
)

// largest ICC slice that fits one APP2 segment after its 14 byte header
const iccChunkSize = 0xFFFF - 2 - 14

// Payloads is the container independent part of an image's metadata: the
// EXIF TIFF stream and the ICC color profile. It is what survives a change of
// output format.
type Payloads struct {
	EXIF []byte
	ICC  []byte
}

// Empty reports whether there is nothing to carry
func (p Payloads) Empty() bool { return len(p.EXIF) == 0 && len(p.ICC) == 0 }

// Carry copies the metadata of src into dst. Matching PNG or JPEG containers
// keep every supported block verbatim; any other pairing carries the EXIF and
// ICC payloads only.
func Carry(src, dst []byte) ([]byte, error) {
	sf, df := Format(src), Format(dst)
	if sf == df && (sf == "png" || sf == "jpg") {
		b, err := Extract(src)
		if err != nil {
			return nil, err
		}
		return Inject(dst, b)
	}
	p, err := ExtractPayloads(src)
	if err != nil {
		return nil, err
	}
	return InjectPayloads(dst, p)
}

// ExtractPayloads reads the EXIF and ICC payloads of a PNG, JPEG or WebP image
func ExtractPayloads(data []byte) (Payloads, error) {
	switch f := Format(data); f {
	case "png":
		return pngPayloads(data)
	case "jpg":
		return jpegPayloads(data)
	case "webp":
		var p Payloads
		// a missing chunk is reported as an error by the muxer
		if exif, err := webp.GetMetadata(data, "EXIF"); err == nil {
			p.EXIF = bytes.TrimPrefix(exif, exifHeader)
		}
		if icc, err := webp.GetMetadata(data, "ICCP"); err == nil {
			p.ICC = icc
		}
		return p, nil
	default:
		return Payloads{}, fmt.Errorf("%w: %q", ErrUnsupported, f)
	}
}

// InjectPayloads writes p into a PNG, JPEG or WebP image
func InjectPayloads(data []byte, p Payloads) ([]byte, error) {
	if p.Empty() {
		return data, nil
	}
	switch f := Format(data); f {
	case "png":
		var raw [][]byte
		if len(p.ICC) > 0 {
			chunk, err := iccpChunk(p.ICC)
			if err != nil {
				return nil, err
			}
			raw = append(raw, chunk)
		}
		if len(p.EXIF) > 0 {
			raw = append(raw, makeChunk("eXIf", p.EXIF))
		}
		return Inject(data, Block{Format: f, Raw: raw})
	case "jpg":
		var raw [][]byte
		if len(p.EXIF) > 0 {
			if len(exifHeader)+len(p.EXIF) > 0xFFFF-2 {
				return nil, errors.New("metadata: EXIF too large for one JPEG segment")
			}
			raw = append(raw, makeSegment(0xE1, append(append([]byte(nil), exifHeader...), p.EXIF...)))
		}
		raw = append(raw, iccSegments(p.ICC)...)
		return Inject(data, Block{Format: f, Raw: raw})
	case "webp":
		out := data
		var err error
		if len(p.EXIF) > 0 {
			if out, err = webp.SetMetadata(out, p.EXIF, "EXIF"); err != nil {
				return nil, fmt.Errorf("metadata: set WebP EXIF: %w", err)
			}
		}
		if len(p.ICC) > 0 {
			if out, err = webp.SetMetadata(out, p.ICC, "ICCP"); err != nil {
				return nil, fmt.Errorf("metadata: set WebP ICC profile: %w", err)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, f)
	}
}

func pngPayloads(data []byte) (Payloads, error) {
	chunks, err := pngChunks(data)
	if err != nil {
		return Payloads{}, err
	}
	var p Payloads
	for _, c := range chunks {
		body := c[8 : len(c)-4]
		switch string(c[4:8]) {
		case "eXIf":
			p.EXIF = bytes.TrimPrefix(body, exifHeader)
		case "iCCP":
			// profile name, NUL, compression method, zlib stream
			i := bytes.IndexByte(body, 0)
			if i < 0 || i+2 > len(body) {
				return Payloads{}, errors.New("metadata: malformed iCCP chunk")
			}
			zr, err := zlib.NewReader(bytes.NewReader(body[i+2:]))
			if err != nil {
				return Payloads{}, fmt.Errorf("metadata: iCCP: %w", err)
			}
			icc, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return Payloads{}, fmt.Errorf("metadata: iCCP: %w", err)
			}
			p.ICC = icc
		}
	}
	return p, nil
}

func jpegPayloads(data []byte) (Payloads, error) {
	segs, err := jpegSegments(data)
	if err != nil {
		return Payloads{}, err
	}
	var p Payloads
	type slice struct {
		seq  byte
		data []byte
	}
	var icc []slice
	for _, s := range segs {
		body := s[4:]
		switch {
		case s[1] == 0xE1 && bytes.HasPrefix(body, exifHeader) && p.EXIF == nil:
			p.EXIF = body[len(exifHeader):]
		case s[1] == 0xE2 && bytes.HasPrefix(body, iccHeader) && len(body) >= len(iccHeader)+2:
			icc = append(icc, slice{seq: body[len(iccHeader)], data: body[len(iccHeader)+2:]})
		}
	}
	sort.SliceStable(icc, func(i, j int) bool { return icc[i].seq < icc[j].seq })
	for _, s := range icc {
		p.ICC = append(p.ICC, s.data...)
	}
	return p, nil
}

func makeChunk(typ string, payload []byte) []byte {
	out := make([]byte, 8, 12+len(payload))
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], typ)
	out = append(out, payload...)
	return binary.BigEndian.AppendUint32(out, crc32.ChecksumIEEE(out[4:]))
}

func iccpChunk(icc []byte) ([]byte, error) {
	var body bytes.Buffer
	body.WriteString("icc\x00\x00")
	zw := zlib.NewWriter(&body)
	if _, err := zw.Write(icc); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return makeChunk("iCCP", body.Bytes()), nil
}

func makeSegment(marker byte, payload []byte) []byte {
	out := []byte{0xFF, marker, 0, 0}
	binary.BigEndian.PutUint16(out[2:], uint16(len(payload)+2))
	return append(out, payload...)
}

// iccSegments splits a profile over numbered APP2 segments
func iccSegments(icc []byte) [][]byte {
	if len(icc) == 0 {
		return nil
	}
	count := (len(icc) + iccChunkSize - 1) / iccChunkSize
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		part := icc[i*iccChunkSize : min(len(icc), (i+1)*iccChunkSize)]
		payload := append(append([]byte(nil), iccHeader...), byte(i+1), byte(count))
		out = append(out, makeSegment(0xE2, append(payload, part...)))
	}
	return out
}
