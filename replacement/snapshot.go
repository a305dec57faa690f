package replacement

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/rs/xid"
)

// SnapshotKind identifies which learned structure a snapshot carries.
type SnapshotKind uint8

const (
	SnapshotQTable       SnapshotKind = 1
	SnapshotApproximator SnapshotKind = 2
)

func (k SnapshotKind) String() string {
	switch k {
	case SnapshotQTable:
		return "qtable"
	case SnapshotApproximator:
		return "approximator"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Snapshot is the persisted learned state of a reinforcement-learning policy.
type Snapshot struct {
	Kind    SnapshotKind
	RunID   xid.ID // Engine instance that wrote the snapshot
	Policy  string
	NumWays uint32
	Epsilon float64

	// SnapshotQTable
	QEntries []QEntry

	// SnapshotApproximator
	Inputs  uint32
	Outputs uint32
	Weights []float64 // row-major, Inputs x Outputs
	Bias    []float64
}

// Snapshotter is implemented by policies whose learned state can be saved
// and restored.
type Snapshotter interface {
	Snapshot() *Snapshot
	Restore(s *Snapshot) error
}

// Payload layout (little endian):
// kind u8 | numWays u32 | epsilon f64 | len(policy) u16 | policy
// qtable:       count u32 | count x (state u32, action u32, value f64)
// approximator: inputs u32 | outputs u32 | weights f64... | bias f64...

func encodeSnapshot(s *Snapshot) ([]byte, error) {
	if len(s.Policy) > math.MaxUint16 {
		return nil, ErrInvalidConfig("encodeSnapshot", "policy", "name too long")
	}
	buf := make([]byte, 0, 64+len(s.QEntries)*16+(len(s.Weights)+len(s.Bias))*8)
	buf = append(buf, uint8(s.Kind))
	buf = binary.LittleEndian.AppendUint32(buf, s.NumWays)
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(s.Epsilon))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s.Policy)))
	buf = append(buf, s.Policy...)

	switch s.Kind {
	case SnapshotQTable:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s.QEntries)))
		for _, e := range s.QEntries {
			buf = binary.LittleEndian.AppendUint32(buf, e.State)
			buf = binary.LittleEndian.AppendUint32(buf, e.Action)
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Value))
		}
	case SnapshotApproximator:
		if len(s.Weights) != int(s.Inputs)*int(s.Outputs) || len(s.Bias) != int(s.Outputs) {
			return nil, ErrSnapshotMismatch("encodeSnapshot", "parameter count does not match shape")
		}
		buf = binary.LittleEndian.AppendUint32(buf, s.Inputs)
		buf = binary.LittleEndian.AppendUint32(buf, s.Outputs)
		for _, w := range s.Weights {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(w))
		}
		for _, b := range s.Bias {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(b))
		}
	default:
		return nil, NewEngineError(ErrCodeSnapshotUnsupported, "encodeSnapshot",
			fmt.Sprintf("unknown snapshot kind %d", s.Kind), nil)
	}
	return buf, nil
}

// payloadReader decodes fixed-width fields, remembering the first short read.
type payloadReader struct {
	data []byte
	off  int
	err  error
}

func (r *payloadReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = ErrSnapshotCorrupted("decodeSnapshot",
			fmt.Sprintf("payload truncated at offset %d", r.off))
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *payloadReader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *payloadReader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *payloadReader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *payloadReader) f64() float64 {
	if b := r.take(8); b != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// remaining reports whether n more items of size bytes each fit in the payload.
func (r *payloadReader) remaining(n, size int) bool {
	return r.err == nil && n >= 0 && n <= (len(r.data)-r.off)/size
}

// decodeSnapshot parses a payload. The result never aliases data.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	r := &payloadReader{data: data}
	s := &Snapshot{
		Kind:    SnapshotKind(r.u8()),
		NumWays: r.u32(),
		Epsilon: r.f64(),
	}
	s.Policy = string(r.take(int(r.u16())))

	switch s.Kind {
	case SnapshotQTable:
		n := int(r.u32())
		if !r.remaining(n, 16) {
			return nil, ErrSnapshotCorrupted("decodeSnapshot", "q-table entry count exceeds payload")
		}
		s.QEntries = make([]QEntry, n)
		for i := range s.QEntries {
			s.QEntries[i] = QEntry{State: r.u32(), Action: r.u32(), Value: r.f64()}
		}
	case SnapshotApproximator:
		s.Inputs = r.u32()
		s.Outputs = r.u32()
		if r.err != nil {
			return nil, r.err
		}
		if s.Inputs == 0 || s.Outputs == 0 {
			return nil, ErrSnapshotCorrupted("decodeSnapshot",
				fmt.Sprintf("empty approximator shape %dx%d", s.Inputs, s.Outputs))
		}
		// inputs*outputs can exceed int; compare in uint64.
		params := (uint64(s.Inputs) + 1) * uint64(s.Outputs)
		if params > uint64(len(r.data)-r.off)/8 {
			return nil, ErrSnapshotCorrupted("decodeSnapshot", "parameter count exceeds payload")
		}
		n := int(s.Inputs) * int(s.Outputs)
		s.Weights = make([]float64, n)
		for i := range s.Weights {
			s.Weights[i] = r.f64()
		}
		s.Bias = make([]float64, s.Outputs)
		for i := range s.Bias {
			s.Bias[i] = r.f64()
		}
	default:
		if r.err != nil {
			return nil, r.err
		}
		return nil, NewEngineError(ErrCodeSnapshotUnsupported, "decodeSnapshot",
			fmt.Sprintf("unknown snapshot kind %d", s.Kind), nil)
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, ErrSnapshotCorrupted("decodeSnapshot",
			fmt.Sprintf("%d trailing bytes after payload", len(data)-r.off))
	}
	return s, nil
}

// MarshalSnapshot encodes s into the compressed container format.
func MarshalSnapshot(s *Snapshot, compression CompressionType) ([]byte, error) {
	payload, err := encodeSnapshot(s)
	if err != nil {
		return nil, err
	}
	return sealSnapshot(payload, compression, s.RunID)
}

// UnmarshalSnapshot decodes a container produced by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	payload, runID, err := openSnapshot(data)
	if err != nil {
		return nil, err
	}
	s, err := decodeSnapshot(payload)
	if err != nil {
		return nil, err
	}
	s.RunID = runID
	return s, nil
}

// WriteSnapshotFile atomically replaces path with the encoded snapshot.
func WriteSnapshotFile(path string, s *Snapshot, compression CompressionType) error {
	const op = "WriteSnapshotFile"
	data, err := MarshalSnapshot(s, compression)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return ErrIO(op, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ErrIO(op, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ErrIO(op, err)
	}
	if err := tmp.Close(); err != nil {
		return ErrIO(op, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return ErrIO(op, err)
	}
	return nil
}

// ReadSnapshotFile maps path read-only and decodes the snapshot in it.
func ReadSnapshotFile(path string) (*Snapshot, error) {
	data, release, err := mapSnapshotFile(path)
	if err != nil {
		return nil, ErrIO("ReadSnapshotFile", err)
	}
	s, decodeErr := UnmarshalSnapshot(data)
	if err := release(); err != nil && decodeErr == nil {
		return nil, ErrIO("ReadSnapshotFile", err)
	}
	return s, decodeErr
}
