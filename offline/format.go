package offline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// Magic identifies persisted hexcache snapshots (ASCII "HEXC").
	Magic = 0x48455843

	// FormatVersion is the current snapshot format version.
	FormatVersion = 1
)

var (
	// ErrInvalidMagic is returned when a blob is not a hexcache snapshot.
	ErrInvalidMagic = errors.New("invalid snapshot magic")

	// ErrInvalidVersion is returned for snapshot format versions this
	// build does not understand.
	ErrInvalidVersion = errors.New("unsupported snapshot format version")
)

// ChecksumMismatchError is returned when the stored CRC32 does not match
// the snapshot body. CRC32 detects accidental corruption only; it is not
// tamper protection.
type ChecksumMismatchError struct {
	Expected uint32
	Actual   uint32
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("snapshot checksum mismatch: expected 0x%08x, got 0x%08x", e.Expected, e.Actual)
}

// header is the self-describing prelude of every snapshot blob. Codec and
// compression are recorded by name so older snapshots stay readable after
// the defaults change.
type header struct {
	version     uint16
	codec       string
	compression string
	checksum    uint32
}

// encodeSnapshot frames a compressed body with the snapshot header.
func encodeSnapshot(h header, body []byte) ([]byte, error) {
	if len(h.codec) > 255 || len(h.compression) > 255 {
		return nil, errors.New("codec or compression name too long")
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(Magic))
	binary.Write(&buf, binary.LittleEndian, h.version)
	buf.WriteByte(byte(len(h.codec)))
	buf.WriteByte(byte(len(h.compression)))
	binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(body))
	buf.WriteString(h.codec)
	buf.WriteString(h.compression)
	buf.Write(body)
	return buf.Bytes(), nil
}

// decodeSnapshot parses a snapshot blob and verifies magic, version and
// body checksum.
func decodeSnapshot(r io.Reader) (header, []byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return header{}, nil, err
	}
	if len(raw) < 12 {
		return header{}, nil, ErrInvalidMagic
	}

	if binary.LittleEndian.Uint32(raw[0:4]) != Magic {
		return header{}, nil, ErrInvalidMagic
	}
	h := header{version: binary.LittleEndian.Uint16(raw[4:6])}
	if h.version != FormatVersion {
		return header{}, nil, fmt.Errorf("%w: %d", ErrInvalidVersion, h.version)
	}

	codecLen := int(raw[6])
	compLen := int(raw[7])
	h.checksum = binary.LittleEndian.Uint32(raw[8:12])

	bodyStart := 12 + codecLen + compLen
	if len(raw) < bodyStart {
		return header{}, nil, ErrInvalidMagic
	}
	h.codec = string(raw[12 : 12+codecLen])
	h.compression = string(raw[12+codecLen : bodyStart])

	body := raw[bodyStart:]
	if actual := crc32.ChecksumIEEE(body); actual != h.checksum {
		return header{}, nil, &ChecksumMismatchError{Expected: h.checksum, Actual: actual}
	}
	return h, body, nil
}
