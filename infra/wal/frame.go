package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame layout:
//
//	[tag uvarint][length uvarint][body: length bytes][crc32 IEEE, little endian]
//
// The checksum covers the tag, length and body bytes exactly as written.
const (
	crcSize = 4

	// MaxBodySize bounds a single frame body. Larger lengths are treated
	// as corruption instead of being allocated.
	MaxBodySize = 64 << 20

	maxHeaderSize = 2 * binary.MaxVarintLen64
)

var (
	// errIncomplete means the stream ended inside a frame.
	errIncomplete = errors.New("wal: incomplete frame")
	// errCorrupt means the frame bytes are present but cannot be trusted.
	errCorrupt = errors.New("wal: corrupt frame")
	// errChecksum is the errCorrupt case where the header parsed, so the
	// damaged frame's extent is known.
	errChecksum = fmt.Errorf("%w: crc mismatch", errCorrupt)
)

type frame struct {
	tag  uint64
	body []byte
	size int64
}

func appendFrame(dst []byte, tag uint64, body []byte) []byte {
	start := len(dst)
	dst = protowire.AppendVarint(dst, tag)
	dst = protowire.AppendVarint(dst, uint64(len(body)))
	dst = append(dst, body...)
	return binary.LittleEndian.AppendUint32(dst, crc32.ChecksumIEEE(dst[start:]))
}

// readFrame reads one frame. It returns io.EOF only at a clean frame
// boundary, errIncomplete when the stream ends mid-frame and errCorrupt
// for checksum or header damage. body is reused as the read buffer. On
// errChecksum the returned frame carries the tag and size of the damaged
// frame.
func readFrame(r *bufio.Reader, body []byte) (frame, error) {
	var hdr [maxHeaderSize]byte
	h := hdr[:0]

	tag, h, err := readUvarint(r, h)
	if err != nil {
		if err == io.EOF && len(h) == 0 {
			return frame{}, io.EOF
		}
		return frame{}, err
	}
	length, h, err := readUvarint(r, h)
	if err != nil {
		return frame{}, err
	}
	if tag == 0 || tag > math.MaxUint32 {
		return frame{}, fmt.Errorf("%w: tag %d", errCorrupt, tag)
	}
	if length > MaxBodySize {
		return frame{}, fmt.Errorf("%w: body length %d exceeds %d", errCorrupt, length, MaxBodySize)
	}

	if uint64(cap(body)) < length {
		body = make([]byte, length)
	}
	body = body[:length]
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, eofAsIncomplete(err)
	}
	var sum [crcSize]byte
	if _, err := io.ReadFull(r, sum[:]); err != nil {
		return frame{}, eofAsIncomplete(err)
	}

	crc := crc32.Update(crc32.ChecksumIEEE(h), crc32.IEEETable, body)
	size := int64(len(h)) + int64(length) + crcSize
	if crc != binary.LittleEndian.Uint32(sum[:]) {
		return frame{tag: tag, size: size}, errChecksum
	}
	return frame{tag: tag, body: body, size: size}, nil
}

// readUvarint reads one varint byte by byte, appending the raw bytes to
// hdr so the checksum can be computed over what is on disk.
func readUvarint(r *bufio.Reader, hdr []byte) (uint64, []byte, error) {
	start := len(hdr)
	for i := 0; i < binary.MaxVarintLen64; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(hdr) > 0 {
				return 0, hdr, errIncomplete
			}
			return 0, hdr, err
		}
		hdr = append(hdr, b)
		if b < 0x80 {
			v, n := protowire.ConsumeVarint(hdr[start:])
			if n < 0 {
				return 0, hdr, fmt.Errorf("%w: %v", errCorrupt, protowire.ParseError(n))
			}
			return v, hdr, nil
		}
	}
	return 0, hdr, fmt.Errorf("%w: varint overflow", errCorrupt)
}

func eofAsIncomplete(err error) error {
	if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
		return errIncomplete
	}
	return err
}
