package famfs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Log wraps a mapped log region (header + fixed-stride entries) and
// provides the append/iterate operations of spec §4.5. Append is not
// re-entrant; callers serialize externally (spec §5).
type Log struct {
	region []byte
	header LogHeader
}

// OpenLog validates the header embedded in region and returns a Log
// bound to it. region must be at least LogHeaderSize bytes.
func OpenLog(region []byte) (*Log, error) {
	var h LogHeader
	if err := h.UnmarshalBinary(region); err != nil {
		return nil, err
	}
	if h.Magic != LogHeaderMagic {
		return nil, fmt.Errorf("%w: bad log magic %#x", ErrLogCorrupt, h.Magic)
	}
	if h.NextIndex > h.LastIndex+1 {
		return nil, fmt.Errorf("%w: next_index %d exceeds last_index+1 %d", ErrLogCorrupt, h.NextIndex, h.LastIndex+1)
	}
	need := LogHeaderSize + (h.LastIndex+1)*LogEntrySize
	if uint64(len(region)) < need {
		return nil, fmt.Errorf("%w: log region too short for capacity %d", ErrLogCorrupt, h.LastIndex+1)
	}
	return &Log{region: region, header: h}, nil
}

// FormatLog initializes a fresh, empty log header in region, sized to
// hold capacity entries. It does not touch the entry array; a fresh
// mapping is assumed to be zeroed, which untouched DAX pages are.
func FormatLog(region []byte, capacity uint64) (*Log, error) {
	need := LogHeaderSize + capacity*LogEntrySize
	if uint64(len(region)) < need {
		return nil, fmt.Errorf("%w: log region too short for capacity %d", ErrInvalidArg, capacity)
	}

	h := LogHeader{
		Magic:      LogHeaderMagic,
		LastIndex:  capacity - 1,
		NextIndex:  0,
		NextSeqnum: 0,
	}
	enc, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	copy(region, enc)

	return &Log{region: region, header: h}, nil
}

// Header returns a copy of the log's current header.
func (l *Log) Header() LogHeader {
	return l.header
}

// Capacity is the number of entry slots the log region holds.
func (l *Log) Capacity() uint64 {
	return l.header.LastIndex + 1
}

func (l *Log) entryOffset(index uint64) uint64 {
	return LogHeaderSize + index*LogEntrySize
}

func (l *Log) readEntry(index uint64) (LogEntry, error) {
	var e LogEntry
	off := l.entryOffset(index)
	if err := e.UnmarshalBinary(l.region[off : off+LogEntrySize]); err != nil {
		return e, err
	}
	return e, nil
}

// Append copies entry into the next free slot, stamping it with the
// current seqnum, and advances the header counters. Effects per spec
// §4.5: a single memcpy-and-increment, so a partial write cannot
// happen.
func (l *Log) Append(entry LogEntry) (seqnum uint64, index uint64, err error) {
	if l.header.Magic != LogHeaderMagic {
		return 0, 0, ErrLogCorrupt
	}
	if l.header.Full() {
		return 0, 0, ErrLogFull
	}

	index = l.header.NextIndex
	entry.Seqnum = l.header.NextSeqnum

	enc, err := entry.MarshalBinary()
	if err != nil {
		return 0, 0, errors.Wrap(err, "encoding log entry")
	}

	off := l.entryOffset(index)
	copy(l.region[off:off+LogEntrySize], enc)

	l.header.NextIndex++
	l.header.NextSeqnum++

	hdrEnc, err := l.header.MarshalBinary()
	if err != nil {
		return 0, 0, errors.Wrap(err, "encoding log header")
	}
	copy(l.region[:LogHeaderSize], hdrEnc)

	return entry.Seqnum, index, nil
}

// Iterator walks log entries 0..NextIndex in order. It is finite and
// restartable (spec §4.5).
type Iterator struct {
	log   *Log
	index uint64
	limit uint64
}

// Iterate returns an iterator over the log's currently-committed
// entries.
func (l *Log) Iterate() *Iterator {
	return &Iterator{log: l, index: 0, limit: l.header.NextIndex}
}

// Next returns the next entry and its index, or ok=false when
// exhausted.
func (it *Iterator) Next() (entry LogEntry, index uint64, ok bool, err error) {
	if it.index >= it.limit {
		return LogEntry{}, 0, false, nil
	}
	e, err := it.log.readEntry(it.index)
	if err != nil {
		return LogEntry{}, 0, false, err
	}
	idx := it.index
	it.index++
	return e, idx, true, nil
}
