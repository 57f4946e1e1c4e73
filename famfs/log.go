package famfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Log entry kinds. ACCESS is reserved and never emitted; the replayer
// and bitmap builder treat it (and any unrecognized kind) as invalid,
// per spec §9 ("do not speculate semantics").
const (
	LogEntryFileCreate uint32 = 1
	LogEntryMkdir      uint32 = 2
	LogEntryAccess     uint32 = 3
)

// MaxRelPathLen bounds a log entry's relative path.
const MaxRelPathLen = 256

// MaxExtents bounds a FILE_CREATE entry's inline extent list.
const MaxExtents = 16

// LogHeaderMagic identifies a valid log region.
const LogHeaderMagic uint32 = 0x1234abcd

// LogHeaderSize is the fixed size of the header preceding the entry
// array.
const LogHeaderSize = 32

// LogEntrySize is the fixed stride of one log entry record.
const LogEntrySize = 556

// Extent is a contiguous {offset, length} byte range on the primary
// device.
type Extent struct {
	Offset uint64
	Length uint64
}

// LogHeader precedes the fixed-stride entry array in the log region.
type LogHeader struct {
	Magic       uint32
	Pad0        uint32
	LastIndex   uint64 // capacity - 1
	NextIndex   uint64 // monotonic; index of next free slot
	NextSeqnum  uint64 // monotonic
}

// MarshalBinary encodes the header in its on-media layout.
func (h *LogHeader) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a header from its on-media layout.
func (h *LogHeader) UnmarshalBinary(data []byte) error {
	if len(data) < LogHeaderSize {
		return fmt.Errorf("%w: log header region too short", ErrLogCorrupt)
	}
	return binary.Read(bytes.NewReader(data[:LogHeaderSize]), binary.LittleEndian, h)
}

// Full reports whether the log has no free slot left.
func (h *LogHeader) Full() bool {
	return h.NextIndex > h.LastIndex
}

// LogEntry is the tagged union described in spec §3: FILE_CREATE,
// MKDIR, or the reserved ACCESS kind. Unused fields for a given kind
// are zero.
type LogEntry struct {
	Kind        uint32
	ExtentCount uint32
	Seqnum      uint64
	RelPath     [MaxRelPathLen]byte
	Size        uint64
	Mode        uint32
	Uid         uint32
	Gid         uint32
	Flags       uint32
	Pad0        uint32
	Extents     [MaxExtents]Extent
}

// RelPathString returns the entry's path with trailing zero bytes
// trimmed.
func (e *LogEntry) RelPathString() string {
	n := bytes.IndexByte(e.RelPath[:], 0)
	if n < 0 {
		n = len(e.RelPath)
	}
	return string(e.RelPath[:n])
}

func setRelPath(e *LogEntry, path string) error {
	if path == "" {
		return fmt.Errorf("%w: relative path is empty", ErrInvalidArg)
	}
	if path[0] == '/' {
		return fmt.Errorf("%w: relative path %q begins with /", ErrPathNotRelative, path)
	}
	if len(path) >= MaxRelPathLen {
		return fmt.Errorf("%w: relative path %q too long", ErrInvalidArg, path)
	}
	var buf [MaxRelPathLen]byte
	copy(buf[:], path)
	e.RelPath = buf
	return nil
}

// MarshalBinary encodes the entry in its on-media layout.
func (e *LogEntry) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, e); err != nil {
		return nil, err
	}
	if buf.Len() != LogEntrySize {
		return nil, fmt.Errorf("famfs: internal: log entry encoded to %d bytes, want %d", buf.Len(), LogEntrySize)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an entry from its on-media layout.
func (e *LogEntry) UnmarshalBinary(data []byte) error {
	if len(data) < LogEntrySize {
		return fmt.Errorf("%w: log entry region too short", ErrLogCorrupt)
	}
	return binary.Read(bytes.NewReader(data[:LogEntrySize]), binary.LittleEndian, e)
}

// NewFileCreate builds a FILE_CREATE entry. Seqnum is stamped by
// Append, not here.
func NewFileCreate(relPath string, size uint64, mode, uid, gid uint32, extents []Extent) (LogEntry, error) {
	var e LogEntry
	e.Kind = LogEntryFileCreate
	if err := setRelPath(&e, relPath); err != nil {
		return e, err
	}
	if len(extents) == 0 || len(extents) > MaxExtents {
		return e, fmt.Errorf("%w: extent count %d out of range", ErrInvalidArg, len(extents))
	}
	e.Size = size
	e.Mode = mode
	e.Uid = uid
	e.Gid = gid
	e.ExtentCount = uint32(len(extents))
	copy(e.Extents[:], extents)
	return e, nil
}

// NewMkdir builds a MKDIR entry.
func NewMkdir(relPath string, mode, uid, gid uint32) (LogEntry, error) {
	var e LogEntry
	e.Kind = LogEntryMkdir
	if err := setRelPath(&e, relPath); err != nil {
		return e, err
	}
	e.Mode = mode
	e.Uid = uid
	e.Gid = gid
	return e, nil
}

// ActiveExtents returns the entry's declared extents, trimmed to
// ExtentCount.
func (e *LogEntry) ActiveExtents() []Extent {
	n := int(e.ExtentCount)
	if n > len(e.Extents) {
		n = len(e.Extents)
	}
	return e.Extents[:n]
}

// ValidateFileCreate checks the invariants spec §3 places on every
// FILE_CREATE entry against device[0]'s size.
func (e *LogEntry) ValidateFileCreate(deviceSize uint64) error {
	if e.Kind != LogEntryFileCreate {
		return fmt.Errorf("%w: not a FILE_CREATE entry", ErrInvalidArg)
	}
	path := e.RelPathString()
	if path == "" {
		return fmt.Errorf("%w: empty relative path", ErrLogCorrupt)
	}
	if path[0] == '/' {
		return fmt.Errorf("%w: absolute relative path %q", ErrPathNotRelative, path)
	}
	var total uint64
	for _, ext := range e.ActiveExtents() {
		if ext.Offset == 0 {
			return fmt.Errorf("%w: extent at offset 0", ErrLogCorrupt)
		}
		if ext.Offset%AllocUnit != 0 {
			return fmt.Errorf("%w: extent offset %d not AU-aligned", ErrLogCorrupt, ext.Offset)
		}
		if ext.Offset+ext.Length > deviceSize {
			return fmt.Errorf("%w: extent [%d,%d) exceeds device size %d", ErrLogCorrupt, ext.Offset, ext.Offset+ext.Length, deviceSize)
		}
		total += ext.Length
	}
	if e.Size > total {
		return fmt.Errorf("%w: declared size %d exceeds extent total %d", ErrLogCorrupt, e.Size, total)
	}
	return nil
}
