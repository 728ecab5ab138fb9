// Package container implements the runtime's elastic record store: an
// in-memory slice that migrates to a memory-mapped file once its
// capacity crosses a spill threshold, the same growth/migration scheme
// as the original's DataContainer (boost::iostreams::mapped_file,
// reinterpret_cast<Datum*>) expressed with golang.org/x/sys/unix.Mmap
// and unsafe.Slice.
package container

import (
	"fmt"
	"iter"
	"os"
	"strconv"
	"unsafe"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sys/unix"

	"github.com/fathomlabs/taskrun/pkg/logging"
)

// recordSize is sizeof(Record) in bytes: three float64 plus one uint64,
// all 8-byte aligned, giving a stable 32-byte layout that unsafe.Slice
// can reinterpret a mapped byte region as.
const recordSize = 32

// SpillThreshold is the record count at which the container migrates
// from an in-memory slice to a memory-mapped backing file. 1024, taken
// directly from the original implementation's max_in_memory_data_size.
var SpillThreshold = 1024

// Record is the container's trivially-copyable element type.
type Record struct {
	ID   uint64
	X, Y, Z float64
}

// Container is an elastic, append-only store of Record values backed
// either by a Go slice (small sizes) or by a memory-mapped file (once
// capacity exceeds SpillThreshold). It is not safe for concurrent use;
// callers that share a Container across goroutines must synchronize
// externally, the same ownership discipline the original imposes.
type Container struct {
	logger *logging.Logger

	id       uint64
	fileName string

	verifyMigrations bool

	capacity int
	size     int

	mem []Record // valid when mapping == nil

	mapping []byte // mmap'd bytes, valid when non-nil
	file    *os.File
	records []Record // unsafe.Slice view over mapping, valid when mapping != nil
}

// Option configures a Container at construction time.
type Option func(*Container)

// WithVerifyMigrations enables the BLAKE2b pre/post migration integrity
// check (§B.3). Off by default: it is a debug aid, not a correctness
// mechanism, since Go's copy (unlike a move-only mapped_file swap) cannot
// silently corrupt data mid-migration.
func WithVerifyMigrations(v bool) Option {
	return func(c *Container) { c.verifyMigrations = v }
}

// WithLogger attaches a logger used for migration and close diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *Container) { c.logger = l }
}

// New creates an empty container. id names the backing file
// ("<id>.bin") that will be created lazily, only once the container
// migrates past SpillThreshold.
func New(id uint64, opts ...Option) *Container {
	c := &Container{
		id:       id,
		fileName: strconv.FormatUint(id, 10) + ".bin",
		capacity: 1,
		mem:      make([]Record, 1),
		logger:   logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Len returns the current logical record count.
func (c *Container) Len() int { return c.size }

// Cap returns the current backing capacity, exported for tests and the
// status surface's size/capacity gauges.
func (c *Container) Cap() int { return c.capacity }

// At returns a pointer to record i. Out-of-range access panics: it is a
// programming error, not a recoverable runtime condition.
func (c *Container) At(i int) *Record {
	if i < 0 || i >= c.size {
		panic(fmt.Sprintf("container: index %d out of range [0, %d)", i, c.size))
	}
	if c.mapping != nil {
		return &c.records[i]
	}
	return &c.mem[i]
}

// Push appends r, growing (and migrating to a memory-mapped file, if the
// spill threshold is crossed) as needed.
func (c *Container) Push(r Record) error {
	if c.size == c.capacity {
		if err := c.grow(); err != nil {
			return err
		}
	}
	if c.mapping != nil {
		c.records[c.size] = r
	} else {
		c.mem[c.size] = r
	}
	c.size++
	return nil
}

func (c *Container) grow() error {
	newCap := c.capacity * 2

	if c.mapping == nil && c.capacity <= SpillThreshold && newCap > SpillThreshold {
		return c.migrate(newCap)
	}

	if c.mapping == nil {
		grown := make([]Record, newCap)
		copy(grown, c.mem)
		c.mem = grown
		c.capacity = newCap
		return nil
	}

	return c.remap(newCap)
}

// migrate moves the container from its in-memory slice to a
// memory-mapped backing file sized for newCap records, copying the
// existing records across.
func (c *Container) migrate(newCap int) error {
	sizeBytes := int64(newCap) * recordSize

	var preChecksum [32]byte
	if c.verifyMigrations {
		preChecksum = checksumRecords(c.mem[:c.size])
	}

	f, err := os.OpenFile(c.fileName, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("container: open backing file %s: %w", c.fileName, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("container: stat backing file %s: %w", c.fileName, err)
	}
	if info.Size() < sizeBytes {
		c.logger.Warnf("resizing %s to %d bytes", c.fileName, sizeBytes)
		if err := f.Truncate(sizeBytes); err != nil {
			f.Close()
			return fmt.Errorf("container: truncate backing file %s: %w", c.fileName, err)
		}
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, int(sizeBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("container: mmap backing file %s: %w", c.fileName, err)
	}

	records := unsafe.Slice((*Record)(unsafe.Pointer(&mapping[0])), newCap)
	copy(records, c.mem[:c.size])

	if c.verifyMigrations {
		postChecksum := checksumRecords(records[:c.size])
		if preChecksum != postChecksum {
			c.logger.Warnf("migration checksum mismatch for %s: pre=%x post=%x", c.fileName, preChecksum, postChecksum)
		}
	}

	c.mem = nil
	c.file = f
	c.mapping = mapping
	c.records = records
	c.capacity = newCap
	return nil
}

// remap grows an already file-backed container by unmapping, resizing,
// and remapping the backing file.
func (c *Container) remap(newCap int) error {
	sizeBytes := int64(newCap) * recordSize

	if err := unix.Munmap(c.mapping); err != nil {
		return fmt.Errorf("container: munmap %s: %w", c.fileName, err)
	}
	if err := c.file.Truncate(sizeBytes); err != nil {
		return fmt.Errorf("container: truncate %s: %w", c.fileName, err)
	}

	mapping, err := unix.Mmap(int(c.file.Fd()), 0, int(sizeBytes), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("container: remap %s: %w", c.fileName, err)
	}

	c.mapping = mapping
	c.records = unsafe.Slice((*Record)(unsafe.Pointer(&mapping[0])), newCap)
	c.capacity = newCap
	return nil
}

func checksumRecords(records []Record) [32]byte {
	bytes := unsafe.Slice((*byte)(unsafe.Pointer(&records[0])), len(records)*recordSize)
	return blake2b.Sum256(bytes)
}

// All returns a forward iterator over the container's current records,
// the idiomatic replacement for the donor's begin()/end() pair.
func (c *Container) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for i := 0; i < c.size; i++ {
			if !yield(*c.At(i)) {
				return
			}
		}
	}
}

// RemoveIf removes every record matching pred, preserving the relative
// order of survivors, and returns the number removed. Capacity is left
// unchanged; only the logical size shrinks.
func (c *Container) RemoveIf(pred func(Record) bool) int {
	write := 0
	for read := 0; read < c.size; read++ {
		r := *c.At(read)
		if pred(r) {
			continue
		}
		if write != read {
			c.set(write, r)
		}
		write++
	}
	removed := c.size - write
	c.size = write
	return removed
}

func (c *Container) set(i int, r Record) {
	if c.mapping != nil {
		c.records[i] = r
	} else {
		c.mem[i] = r
	}
}

// Close releases the container's resources: for a file-backed container
// this unmaps and unlinks the backing file; for an in-memory container
// it is a no-op.
func (c *Container) Close() error {
	if c.mapping == nil {
		return nil
	}

	if err := unix.Munmap(c.mapping); err != nil {
		return fmt.Errorf("container: munmap %s: %w", c.fileName, err)
	}
	c.mapping = nil
	c.records = nil

	if err := c.file.Close(); err != nil {
		return fmt.Errorf("container: close %s: %w", c.fileName, err)
	}

	if err := os.Remove(c.fileName); err != nil {
		c.logger.Warnf("failed to remove temporary file %s: %v", c.fileName, err)
	}

	return nil
}
