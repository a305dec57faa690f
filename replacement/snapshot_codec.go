package replacement

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/rs/xid"
)

// CompressionType represents the compression algorithm used for a snapshot
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionLZ4    CompressionType = 1
	CompressionSnappy CompressionType = 2
)

func parseCompression(name string) (CompressionType, bool) {
	switch name {
	case "", "none":
		return CompressionNone, true
	case "lz4":
		return CompressionLZ4, true
	case "snappy":
		return CompressionSnappy, true
	default:
		return CompressionNone, false
	}
}

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionSnappy:
		return "snappy"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// Snapshot container layout:
// [0-3]: Magic number
// [4]: Format version
// [5]: Compression type (0=none, 1=LZ4, 2=Snappy)
// [6-7]: Reserved
// [8-19]: Run id (xid)
// [20-23]: Uncompressed payload size
// [24-27]: Stored payload size
// [28-31]: Checksum of the uncompressed payload (CRC32 IEEE)
// [32+]: Payload

const (
	SnapshotMagic           = 0x52504C53 // "RPLS"
	SnapshotVersion         = 1
	SnapshotHeaderSize      = 32
	MinCompressionThreshold = 64 // Minimum bytes saved to keep compression
)

// compressPayload compresses data, falling back to no compression when the
// algorithm does not save at least MinCompressionThreshold bytes.
func compressPayload(data []byte, typ CompressionType) (CompressionType, []byte, error) {
	var compressed []byte

	switch typ {
	case CompressionNone:
		return CompressionNone, data, nil

	case CompressionLZ4:
		compressed = make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, compressed, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("LZ4 compression failed: %w", err)
		}
		// n == 0 means the input was incompressible
		if n == 0 {
			return CompressionNone, data, nil
		}
		compressed = compressed[:n]

	case CompressionSnappy:
		compressed = snappy.Encode(nil, data)

	default:
		return 0, nil, fmt.Errorf("unsupported compression type: %d", typ)
	}

	if len(data)-len(compressed) < MinCompressionThreshold {
		return CompressionNone, data, nil
	}
	return typ, compressed, nil
}

// decompressPayload reverses compressPayload.
func decompressPayload(stored []byte, typ CompressionType, size int) ([]byte, error) {
	switch typ {
	case CompressionNone:
		return stored, nil

	case CompressionLZ4:
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("LZ4 decompression failed: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("LZ4 decompression size mismatch: got %d, expected %d", n, size)
		}
		return out, nil

	case CompressionSnappy:
		out, err := snappy.Decode(nil, stored)
		if err != nil {
			return nil, fmt.Errorf("snappy decompression failed: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("snappy decompression size mismatch: got %d, expected %d", len(out), size)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported compression type: %d", typ)
	}
}

// sealSnapshot wraps payload in the container header.
func sealSnapshot(payload []byte, typ CompressionType, runID xid.ID) ([]byte, error) {
	actual, stored, err := compressPayload(payload, typ)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, SnapshotHeaderSize+len(stored))
	binary.LittleEndian.PutUint32(buf[0:4], SnapshotMagic)
	buf[4] = SnapshotVersion
	buf[5] = uint8(actual)
	copy(buf[8:20], runID.Bytes())
	binary.LittleEndian.PutUint32(buf[20:24], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(len(stored)))
	binary.LittleEndian.PutUint32(buf[28:32], crc32.ChecksumIEEE(payload))
	copy(buf[SnapshotHeaderSize:], stored)
	return buf, nil
}

// openSnapshot validates the container and returns the uncompressed payload.
// The payload may alias data.
func openSnapshot(data []byte) ([]byte, xid.ID, error) {
	const op = "openSnapshot"
	if len(data) < SnapshotHeaderSize {
		return nil, xid.NilID(), ErrSnapshotCorrupted(op,
			fmt.Sprintf("data too short for snapshot header: %d bytes", len(data)))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != SnapshotMagic {
		return nil, xid.NilID(), ErrSnapshotCorrupted(op,
			fmt.Sprintf("invalid magic number: got %08x, expected %08x", magic, SnapshotMagic))
	}
	if v := data[4]; v != SnapshotVersion {
		return nil, xid.NilID(), NewEngineError(ErrCodeSnapshotUnsupported, op,
			fmt.Sprintf("snapshot version %d not supported", v), nil)
	}
	runID, err := xid.FromBytes(data[8:20])
	if err != nil {
		return nil, xid.NilID(), NewEngineError(ErrCodeSnapshotCorrupted, op, "invalid run id", err)
	}

	size := int(binary.LittleEndian.Uint32(data[20:24]))
	storedSize := int(binary.LittleEndian.Uint32(data[24:28]))
	checksum := binary.LittleEndian.Uint32(data[28:32])
	if SnapshotHeaderSize+storedSize > len(data) {
		return nil, runID, ErrSnapshotCorrupted(op,
			fmt.Sprintf("insufficient data for snapshot: need %d bytes, have %d",
				SnapshotHeaderSize+storedSize, len(data)))
	}

	payload, err := decompressPayload(data[SnapshotHeaderSize:SnapshotHeaderSize+storedSize],
		CompressionType(data[5]), size)
	if err != nil {
		return nil, runID, NewEngineError(ErrCodeSnapshotCorrupted, op, "payload unreadable", err)
	}
	if got := crc32.ChecksumIEEE(payload); got != checksum {
		return nil, runID, ErrSnapshotCorrupted(op,
			fmt.Sprintf("checksum mismatch: got %08x, expected %08x", got, checksum))
	}
	return payload, runID, nil
}
