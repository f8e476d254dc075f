package log

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Topic is a named log with one offset space spread over a sequence of
// bounded segments. Appends go to the single active segment; reads are routed
// to the segment whose range contains the offset.
//
// A Topic is safe for concurrent use. Appends, rollover and metadata writes
// are serialized; reads run in parallel with each other.
type Topic struct {
	mu sync.RWMutex

	name       string
	baseDir    string
	segments   []*segment
	active     int
	nextOffset uint64
	capacity   uint64
	closed     bool

	config Config
	logger *zap.Logger
}

// SegmentInfo describes one segment of a topic.
type SegmentInfo struct {
	BaseOffset uint64
	NextOffset uint64
	Size       uint64
	Active     bool
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, os.PathSeparator) {
		return newError("topic", ErrInvalidData, errors.Errorf("invalid topic name %q", name))
	}
	return nil
}

func topicDir(root, name string) string {
	return filepath.Join(root, name)
}

// Exists reports whether a topic has been created under root.
func Exists(root, name string) bool {
	if validateName(name) != nil {
		return false
	}
	_, err := os.Stat(metadataPath(topicDir(root, name)))
	return err == nil
}

// Create makes a new topic under c.Dir with a single active segment at
// offset 0 and writes its metadata.
func Create(name string, c Config) (*Topic, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dir := topicDir(c.Dir, name)
	if Exists(c.Dir, name) {
		return nil, newError("create", ErrTopicExists, nil).withTopic(name)
	}

	t := &Topic{
		name:     name,
		baseDir:  dir,
		capacity: c.maxMessages(),
		config:   c,
		logger:   c.logger().Named("topic").With(zap.String("topic", name)),
	}

	seg, err := newSegment(segmentPath(dir, 0), 0, t.capacity, c)
	if err != nil {
		return nil, annotate(err, name)
	}
	t.segments = []*segment{seg}
	t.active = 0
	if seg.nextOffset > 0 {
		t.logger.Warn("adopting messages left in first segment",
			zap.Uint64("next_offset", seg.nextOffset))
		t.nextOffset = seg.nextOffset
	}

	if err := t.persistMetadata(); err != nil {
		seg.Close()
		return nil, annotate(err, name)
	}
	t.logger.Info("created topic", zap.String("dir", dir), zap.Uint64("capacity", t.capacity))
	return t, nil
}

// Load reopens a topic from its metadata and the segment files found in its
// directory. The last segment becomes the active one.
func Load(name string, c Config) (*Topic, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	dir := topicDir(c.Dir, name)

	md, err := readMetadata(dir)
	if err != nil {
		return nil, annotate(err, name)
	}
	if md.Name != name {
		return nil, newError("load", ErrInvalidData,
			errors.Errorf("metadata names topic %q", md.Name)).withTopic(name)
	}

	t := &Topic{
		name:       name,
		baseDir:    dir,
		nextOffset: md.NextOffset,
		capacity:   md.SegmentCapacity,
		config:     c,
		logger:     c.logger().Named("topic").With(zap.String("topic", name)),
	}
	if t.capacity == 0 {
		t.capacity = c.maxMessages()
	}
	if md.BaseDirectory != dir {
		t.logger.Warn("topic directory moved",
			zap.String("recorded", md.BaseDirectory), zap.String("dir", dir))
	}

	if err := t.loadSegments(); err != nil {
		return nil, annotate(err, name)
	}

	last := t.segments[t.active]
	if last.nextOffset > t.nextOffset {
		t.logger.Info("recovered next offset from segments",
			zap.Uint64("recorded", t.nextOffset), zap.Uint64("next_offset", last.nextOffset))
		t.nextOffset = last.nextOffset
	}
	t.logger.Info("loaded topic",
		zap.Int("segments", len(t.segments)), zap.Uint64("next_offset", t.nextOffset))
	return t, nil
}

// loadSegments opens every segment log file in the topic directory in
// ascending base-offset order.
func (t *Topic) loadSegments() error {
	entries, err := os.ReadDir(t.baseDir)
	if err != nil {
		return ioError("load", err, "scan %s", t.baseDir)
	}

	type found struct {
		path string
		base uint64
	}
	var files []found
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != logSuffix {
			continue
		}
		path := filepath.Join(t.baseDir, e.Name())
		base, err := parseBaseOffset(path)
		if err != nil {
			return newError("load", ErrInvalidData, err)
		}
		files = append(files, found{path: path, base: base})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].base < files[j].base })
	for i := 1; i < len(files); i++ {
		if files[i].base == files[i-1].base {
			return newError("load", ErrInvalidData,
				errors.Errorf("segments %s and %s share base offset %d",
					filepath.Base(files[i-1].path), filepath.Base(files[i].path), files[i].base))
		}
	}

	for i, f := range files {
		last := i == len(files)-1
		seg, err := openSegment(f.path, t.capacity, last, t.config)
		if err != nil {
			t.closeSegments()
			return err
		}
		if last {
			seg.active = true
		} else {
			seg.Seal()
		}
		t.segments = append(t.segments, seg)
	}

	if len(t.segments) == 0 {
		t.logger.Warn("no segments found, starting a new one", zap.Uint64("base_offset", t.nextOffset))
		seg, err := newSegment(segmentPath(t.baseDir, t.nextOffset), t.nextOffset, t.capacity, t.config)
		if err != nil {
			return err
		}
		t.segments = append(t.segments, seg)
	}
	t.active = len(t.segments) - 1
	return nil
}

// Append stores payload under the next offset and returns the offset that
// will be assigned to the message after it.
func (t *Topic) Append(payload []byte) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, newError("append", ErrClosed, nil).withTopic(t.name)
	}

	seg, err := t.activeSegment()
	if err != nil {
		return 0, err
	}
	if seg.IsMaxed(t.nextOffset) {
		if seg, err = t.roll(); err != nil {
			return 0, annotate(err, t.name)
		}
	}

	msg := NewMessage(t.nextOffset, payload)
	next, err := seg.Append(msg)
	if err != nil {
		return 0, annotate(err, t.name)
	}
	t.nextOffset = next

	t.logger.Debug("appended", zap.Uint64("offset", msg.Offset), zap.Int("bytes", len(payload)))
	return next, nil
}

func (t *Topic) activeSegment() (*segment, error) {
	if t.active < 0 || t.active >= len(t.segments) || !t.segments[t.active].active {
		return nil, newError("append", ErrNotFound, errors.New("no active segment")).withTopic(t.name)
	}
	return t.segments[t.active], nil
}

// roll seals the active segment and starts a new one at the next offset.
func (t *Topic) roll() (*segment, error) {
	seg, err := newSegment(segmentPath(t.baseDir, t.nextOffset), t.nextOffset, t.capacity, t.config)
	if err != nil {
		return nil, err
	}
	old := t.segments[t.active]
	old.Seal()
	t.segments = append(t.segments, seg)
	t.active = len(t.segments) - 1

	t.logger.Info("rolled segment",
		zap.Uint64("sealed_base_offset", old.baseOffset),
		zap.Uint64("sealed_size", old.size),
		zap.Uint64("base_offset", seg.baseOffset))
	return seg, nil
}

// Read returns the message stored at off.
func (t *Topic) Read(off uint64) (Message, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.closed {
		return Message{}, newError("read", ErrClosed, nil).withTopic(t.name).withOffset(off)
	}

	i := t.findSegment(off)
	if i < 0 {
		return Message{}, newError("read", ErrNotFound,
			errors.New("no segment contains offset")).withTopic(t.name).withOffset(off)
	}
	msg, err := t.segments[i].Read(off)
	if err != nil {
		return Message{}, annotate(err, t.name)
	}
	return msg, nil
}

// findSegment returns the position of the first segment, in ascending base
// offset order, whose range contains off, or -1.
func (t *Topic) findSegment(off uint64) int {
	for i, s := range t.segments {
		if s.ContainsOffset(off) {
			return i
		}
	}
	return -1
}

// PersistMetadata writes the topic's name, directory and next offset to its
// metadata file, replacing any previous one.
func (t *Topic) PersistMetadata() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return newError("persist metadata", ErrClosed, nil).withTopic(t.name)
	}
	return annotate(t.persistMetadata(), t.name)
}

func (t *Topic) persistMetadata() error {
	err := writeMetadata(t.baseDir, metadata{
		Name:            t.name,
		BaseDirectory:   t.baseDir,
		NextOffset:      t.nextOffset,
		SegmentCapacity: t.capacity,
	})
	if err == nil {
		t.logger.Debug("persisted metadata", zap.Uint64("next_offset", t.nextOffset))
	}
	return err
}

// Close persists the metadata and releases every segment. Closing twice is a
// no-op.
func (t *Topic) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	err := annotate(t.persistMetadata(), t.name)
	return multierr.Append(err, t.closeSegments())
}

func (t *Topic) closeSegments() error {
	var err error
	for _, s := range t.segments {
		if cerr := s.Close(); cerr != nil {
			err = multierr.Append(err, newError("close", ErrIO, errors.Wrap(cerr, s.Name())).withTopic(t.name))
		}
	}
	t.segments = nil
	return err
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// BaseDirectory returns the directory holding the topic's files.
func (t *Topic) BaseDirectory() string {
	return t.baseDir
}

// NextOffset returns the offset the next appended message will get.
func (t *Topic) NextOffset() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nextOffset
}

// Segments describes the topic's segments in ascending base-offset order.
func (t *Topic) Segments() []SegmentInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	infos := make([]SegmentInfo, 0, len(t.segments))
	for _, s := range t.segments {
		infos = append(infos, SegmentInfo{
			BaseOffset: s.baseOffset,
			NextOffset: s.nextOffset,
			Size:       s.size,
			Active:     s.active,
		})
	}
	return infos
}
