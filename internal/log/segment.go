package log

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	logSuffix   = ".dat"
	indexSuffix = ".index"
	fileFormat  = "%020d%s"

	// lenWidth is the size of the little-endian length prefix of every frame.
	lenWidth = 4
)

// errTornFrame marks a frame cut short by the end of the file.
var errTornFrame = errors.New("truncated frame")

type segment struct {
	file                   *os.File
	index                  *index
	baseOffset, nextOffset uint64
	// capacity is the number of offsets the segment covers. Sealing shrinks it
	// to the span actually written.
	capacity uint64
	size     uint64
	active   bool
	config   Config
}

func segmentPath(dir string, baseOffset uint64) string {
	return filepath.Join(dir, fmt.Sprintf(fileFormat, baseOffset, logSuffix))
}

// parseBaseOffset extracts the base offset encoded in a segment file name.
func parseBaseOffset(path string) (uint64, error) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, logSuffix) {
		return 0, errors.Errorf("%s: missing %s suffix", name, logSuffix)
	}
	off, err := strconv.ParseUint(strings.TrimSuffix(name, logSuffix), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: base offset", name)
	}
	return off, nil
}

// newSegment creates (or reopens) the log file at path as the active segment
// starting at baseOffset. Parent directories are created as needed.
func newSegment(path string, baseOffset, capacity uint64, c Config) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ioError("create segment", err, "mkdir %s", filepath.Dir(path))
	}
	s, err := openSegmentFile(path, baseOffset, capacity, os.O_CREATE, true, c)
	if err != nil {
		return nil, err
	}
	s.active = true
	return s, nil
}

// openSegment reconstructs a segment from an existing log file without
// truncating it. A torn final frame is cut off only when repair is set;
// otherwise it is reported as invalid data.
func openSegment(path string, capacity uint64, repair bool, c Config) (*segment, error) {
	baseOffset, err := parseBaseOffset(path)
	if err != nil {
		return nil, newError("open segment", ErrInvalidData, err)
	}
	return openSegmentFile(path, baseOffset, capacity, 0, repair, c)
}

func openSegmentFile(path string, baseOffset, capacity uint64, flag int, repair bool, c Config) (*segment, error) {
	if capacity == 0 || capacity > math.MaxUint32 {
		return nil, newError("open segment", ErrInvalidData,
			errors.Errorf("capacity %d out of range", capacity))
	}
	s := &segment{
		baseOffset: baseOffset,
		nextOffset: baseOffset,
		capacity:   capacity,
		config:     c,
	}

	var err error
	s.file, err = os.OpenFile(
		path,
		os.O_RDWR|os.O_APPEND|flag,
		0644,
	)
	if err != nil {
		return nil, ioError("open segment", err, "open %s", path)
	}

	indexFile, err := os.OpenFile(
		strings.TrimSuffix(path, logSuffix)+indexSuffix,
		os.O_RDWR|os.O_CREATE,
		0644,
	)
	if err != nil {
		s.file.Close()
		return nil, ioError("open segment", err, "open index for %s", path)
	}
	if s.index, err = newIndex(indexFile, capacity); err != nil {
		indexFile.Close()
		s.file.Close()
		return nil, ioError("open segment", err, "map index %s", indexFile.Name())
	}

	if err := s.rebuild(repair); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// rebuild scans the log file from the start, refilling the index and
// recovering nextOffset and size.
func (s *segment) rebuild(repair bool) error {
	fi, err := s.file.Stat()
	if err != nil {
		return ioError("open segment", err, "stat %s", s.Name())
	}
	end := uint64(fi.Size())

	s.index.Reset()
	var pos uint64
	for {
		msg, n, err := s.readFrame(pos, end)
		if err == io.EOF {
			break
		}
		if errors.Is(err, errTornFrame) && repair {
			s.config.logger().Warn("truncating torn frame",
				zap.String("segment", s.Name()),
				zap.Uint64("position", pos),
				zap.Uint64("size", end),
			)
			if err := s.file.Truncate(int64(pos)); err != nil {
				return ioError("open segment", err, "truncate %s", s.Name())
			}
			break
		}
		if err != nil {
			return err
		}
		if msg.Offset < s.nextOffset || msg.Offset-s.baseOffset >= s.capacity {
			return newError("open segment", ErrInvalidData,
				errors.Errorf("%s: offset %d out of order at position %d", s.Name(), msg.Offset, pos)).
				withOffset(msg.Offset)
		}
		// A full index only costs lookups a scan.
		_ = s.index.Write(uint32(msg.Offset-s.baseOffset), pos)
		s.nextOffset = msg.Offset + 1
		pos += n
	}
	s.size = pos
	return nil
}

// Append writes the framed message to the end of the file, syncs it, and
// returns the offset that follows it. The caller chooses the offset.
func (s *segment) Append(msg Message) (next uint64, err error) {
	if msg.Offset < s.nextOffset || msg.Offset-s.baseOffset >= math.MaxUint32 {
		return 0, newError("append", ErrInvalidData,
			errors.Errorf("offset %d does not fit segment %d", msg.Offset, s.baseOffset)).
			withOffset(msg.Offset)
	}

	p, err := msg.MarshalBinary()
	if err != nil {
		return 0, newError("append", ErrInvalidData, err).withOffset(msg.Offset)
	}
	if uint64(len(p)) > math.MaxUint32 {
		return 0, newError("append", ErrInvalidData,
			errors.Errorf("message of %d bytes exceeds frame limit", len(p))).withOffset(msg.Offset)
	}

	// Length and payload go out in a single write so a reader never sees a
	// length without its payload.
	frame := make([]byte, lenWidth+len(p))
	enc.PutUint32(frame[:lenWidth], uint32(len(p)))
	copy(frame[lenWidth:], p)

	pos := s.size
	if _, err := s.file.Write(frame); err != nil {
		return 0, s.undo(pos, ioError("append", err, "write %s", s.Name())).withOffset(msg.Offset)
	}
	if err := s.file.Sync(); err != nil {
		return 0, s.undo(pos, ioError("append", err, "sync %s", s.Name())).withOffset(msg.Offset)
	}

	_ = s.index.Write(uint32(msg.Offset-s.baseOffset), pos)
	s.size += uint64(len(frame))
	s.nextOffset = msg.Offset + 1
	return s.nextOffset, nil
}

// undo drops a partially written frame.
func (s *segment) undo(pos uint64, err error) *Error {
	e := err.(*Error)
	if terr := s.file.Truncate(int64(pos)); terr != nil {
		e.Err = multierr.Append(e.Err, terr)
	}
	return e
}

// Read returns the message stored at off. The index locates the frame
// directly; offsets missing from it fall back to a scan from the start.
func (s *segment) Read(off uint64) (Message, error) {
	if off < s.baseOffset || off >= s.nextOffset {
		return Message{}, newError("read", ErrNotFound,
			errors.Errorf("segment %d holds [%d, %d)", s.baseOffset, s.baseOffset, s.nextOffset)).
			withOffset(off)
	}
	fi, err := s.file.Stat()
	if err != nil {
		return Message{}, ioError("read", err, "stat %s", s.Name()).(*Error).withOffset(off)
	}
	end := uint64(fi.Size())

	if pos, ok := s.index.Find(uint32(off - s.baseOffset)); ok {
		msg, _, err := s.readFrame(pos, end)
		if err == io.EOF {
			err = newError("read", ErrInvalidData, errors.Wrapf(errTornFrame, "no frame at position %d", pos))
		}
		if err != nil {
			return Message{}, err.(*Error).withOffset(off)
		}
		if msg.Offset != off {
			return Message{}, newError("read", ErrInvalidData,
				errors.Errorf("index points to offset %d at position %d", msg.Offset, pos)).
				withOffset(off)
		}
		return msg, nil
	}
	return s.ReadFrom(off)
}

// ReadFrom scans frames from the start of the file and returns the first
// message whose offset is off.
func (s *segment) ReadFrom(off uint64) (Message, error) {
	fi, err := s.file.Stat()
	if err != nil {
		return Message{}, ioError("read", err, "stat %s", s.Name()).(*Error).withOffset(off)
	}
	end := uint64(fi.Size())

	var pos uint64
	for {
		msg, n, err := s.readFrame(pos, end)
		if err == io.EOF {
			return Message{}, newError("read", ErrNotFound,
				errors.Errorf("reached end of %s", s.Name())).withOffset(off)
		}
		if err != nil {
			return Message{}, err.(*Error).withOffset(off)
		}
		if msg.Offset == off {
			return msg, nil
		}
		pos += n
	}
}

// readFrame decodes the frame at pos, given the file ends at end. It returns
// io.EOF when pos is exactly the end of the file and the frame's total size
// otherwise.
func (s *segment) readFrame(pos, end uint64) (Message, uint64, error) {
	if pos >= end {
		return Message{}, 0, io.EOF
	}
	if end-pos < lenWidth {
		return Message{}, 0, newError("read", ErrInvalidData,
			errors.Wrapf(errTornFrame, "%s: length prefix at %d", s.Name(), pos))
	}

	var lenBuf [lenWidth]byte
	if _, err := s.file.ReadAt(lenBuf[:], int64(pos)); err != nil {
		return Message{}, 0, readError(err, s.Name(), pos)
	}
	size := uint64(enc.Uint32(lenBuf[:]))
	if end-pos-lenWidth < size {
		return Message{}, 0, newError("read", ErrInvalidData,
			errors.Wrapf(errTornFrame, "%s: frame at %d wants %d bytes, %d left", s.Name(), pos, size, end-pos-lenWidth))
	}

	p := make([]byte, size)
	if _, err := s.file.ReadAt(p, int64(pos+lenWidth)); err != nil {
		return Message{}, 0, readError(err, s.Name(), pos)
	}
	var msg Message
	if err := msg.UnmarshalBinary(p); err != nil {
		return Message{}, 0, newError("read", ErrInvalidData,
			errors.Wrapf(err, "%s: frame at %d", s.Name(), pos))
	}
	return msg, lenWidth + size, nil
}

func readError(err error, name string, pos uint64) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return newError("read", ErrInvalidData, errors.Wrapf(errTornFrame, "%s: frame at %d", name, pos))
	}
	return ioError("read", err, "%s: frame at %d", name, pos)
}

// ContainsOffset reports whether off falls in the range of offsets the
// segment is responsible for.
func (s *segment) ContainsOffset(off uint64) bool {
	return off >= s.baseOffset && off-s.baseOffset < s.capacity
}

// IsMaxed reports whether the segment must be sealed before an append of
// offset next.
func (s *segment) IsMaxed(next uint64) bool {
	if next-s.baseOffset >= s.capacity {
		return true
	}
	return s.config.Segment.MaxStoreBytes > 0 && s.size >= s.config.Segment.MaxStoreBytes
}

// Seal stops the segment from taking appends and fixes its range to the
// offsets actually written.
func (s *segment) Seal() {
	s.active = false
	s.capacity = s.nextOffset - s.baseOffset
}

func (s *segment) Name() string {
	return s.file.Name()
}

func (s *segment) Close() error {
	var err error
	if s.index != nil {
		err = multierr.Append(err, s.index.Close())
	}
	err = multierr.Append(err, s.file.Sync())
	err = multierr.Append(err, s.file.Close())
	return err
}
