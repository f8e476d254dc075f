package log

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/tysonmote/gommap"
)

var enc = binary.LittleEndian

var (
	offWidth uint64 = 4
	posWidth uint64 = 8
	entWidth        = offWidth + posWidth
)

// index maps offsets relative to the segment's base offset to the byte
// position of their frame in the segment's log file. Entries are appended in
// ascending offset order, so lookups can binary search.
type index struct {
	file *os.File
	mmap gommap.MMap
	size uint64
}

// newIndex maps f with room for maxEntries entries. The index starts empty;
// the owning segment rebuilds it from its log file.
func newIndex(f *os.File, maxEntries uint64) (*index, error) {
	idx := &index{
		file: f,
	}

	if err := os.Truncate(
		f.Name(), int64(maxEntries*entWidth),
	); err != nil {
		return nil, err
	}

	// memory-map the index file so entries can be written and searched like a
	// byte slice.
	var err error
	if idx.mmap, err = gommap.Map(
		idx.file.Fd(),
		gommap.PROT_READ|gommap.PROT_WRITE,
		gommap.MAP_SHARED,
	); err != nil {
		return nil, err
	}

	return idx, nil
}

func (i *index) entries() uint64 {
	return i.size / entWidth
}

func (i *index) entry(n uint64) (rel uint32, pos uint64) {
	at := n * entWidth
	rel = enc.Uint32(i.mmap[at : at+offWidth])
	pos = enc.Uint64(i.mmap[at+offWidth : at+entWidth])
	return rel, pos
}

// Find returns the position of the frame holding relative offset rel.
func (i *index) Find(rel uint32) (pos uint64, ok bool) {
	n := i.entries()
	k := sort.Search(int(n), func(j int) bool {
		r, _ := i.entry(uint64(j))
		return r >= rel
	})
	if uint64(k) == n {
		return 0, false
	}
	r, pos := i.entry(uint64(k))
	if r != rel {
		return 0, false
	}
	return pos, true
}

// Write records that relative offset off starts at pos. It returns io.EOF
// when the index is full.
func (i *index) Write(off uint32, pos uint64) error {
	if uint64(len(i.mmap)) < i.size+entWidth {
		return io.EOF
	}

	enc.PutUint32(i.mmap[i.size:i.size+offWidth], off)
	enc.PutUint64(i.mmap[i.size+offWidth:i.size+entWidth], pos)
	i.size += entWidth
	return nil
}

func (i *index) Reset() {
	i.size = 0
}

func (i *index) Name() string {
	return i.file.Name()
}

// Close flushes the mapping and shrinks the file to the entries written.
func (i *index) Close() error {
	if err := i.mmap.Sync(gommap.MS_SYNC); err != nil {
		return err
	}
	if err := i.mmap.UnsafeUnmap(); err != nil {
		return err
	}
	if err := i.file.Truncate(int64(i.size)); err != nil {
		return err
	}
	if err := i.file.Sync(); err != nil {
		return err
	}
	if err := i.file.Close(); err != nil {
		return err
	}
	return nil
}
