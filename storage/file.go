package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/Skryldev/asset-manager/core"
	apperrors "github.com/Skryldev/asset-manager/errors"
)

// Store file layout, little-endian:
//
//	magic       [4]byte  "AMST"
//	version     uint8
//	compression uint8
//	reserved    [2]byte
//	size        uint64   uncompressed body length
//	digest      [32]byte keyed BLAKE3 of the stored body
//	body        CBOR snapshot, compressed
const (
	fileVersion    = 1
	fileHeaderSize = 4 + 1 + 1 + 2 + 8 + 32
)

var fileMagic = [4]byte{'A', 'M', 'S', 'T'}

// digestKey separates store digests from any other BLAKE3 use.
var digestKey = [32]byte{
	'a', 's', 's', 'e', 't', '-', 'm', 'a', 'n', 'a', 'g', 'e', 'r', '.',
	's', 't', 'o', 'r', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// FileOptions configures OpenFile.
type FileOptions struct {
	// Compression is "none", "lz4" or "zstd" (default).
	Compression string
	// Perm is the mode of the store file; default 0644.
	Perm   os.FileMode
	Logger core.Logger
}

// File is a Storage that keeps every entry in memory and rewrites the whole
// store file on each mutation.  The file is replaced atomically, and a
// mutation whose write fails leaves both the file and the in-memory state
// as they were.
type File struct {
	mem    *Memory[string]
	path   string
	comp   Compression
	perm   os.FileMode
	log    core.Logger
	closed bool
}

// OpenFile loads the store at path, creating an empty one when the file
// does not exist.
func OpenFile(path string, opts FileOptions) (*File, error) {
	comp, err := ParseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	f := &File{
		mem:  NewMemory[string](),
		path: path,
		comp: comp,
		perm: opts.Perm,
		log:  opts.Logger,
	}
	if f.perm == 0 {
		f.perm = 0o644
	}
	if f.log == nil {
		f.log = core.NopLogger()
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryStorage, "file.open.mkdir", err)
		}
		if err := f.flush(); err != nil {
			return nil, err
		}
		f.log.Info("storage.file.created", "path", path, "compression", comp.String())
		return f, nil
	case err != nil:
		return nil, apperrors.Wrap(apperrors.CategoryStorage, "file.open", err)
	}

	snap, err := decodeFile(data)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryStorage, "file.open", fmt.Errorf("%w: %s: %v", apperrors.ErrCorruptStore, path, err))
	}
	for _, r := range snap.Records {
		e := r.entry()
		f.mem.set(r.Key, e.asset, e.tags)
	}
	f.log.Info("storage.file.loaded", "path", path, "entries", len(snap.Records))
	return f, nil
}

// Path returns the location of the store file.
func (f *File) Path() string { return f.path }

func (f *File) Set(ctx context.Context, key string, a *core.Asset, tags Tags) error {
	if err := checkContext(ctx, "file.set"); err != nil {
		return err
	}
	if err := checkAsset("file.set", a); err != nil {
		return err
	}
	return f.mutate("file.set", func() error {
		f.mem.set(key, a, tags)
		return nil
	})
}

func (f *File) Delete(ctx context.Context, key string) error {
	if err := checkContext(ctx, "file.delete"); err != nil {
		return err
	}
	return f.mutate("file.delete", func() error {
		if !f.mem.delete(key) {
			return keyNotFound("file.delete", key)
		}
		return nil
	})
}

// mutate applies change under the write lock and persists the result,
// restoring the previous state if either step fails.
func (f *File) mutate(op string, change func() error) error {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	if f.closed {
		return apperrors.Newf(apperrors.CategoryStorage, op, "store %s is closed", f.path)
	}
	order, entries := f.mem.snapshot()
	if err := change(); err != nil {
		return err
	}
	if err := f.flush(); err != nil {
		f.mem.restore(order, entries)
		f.log.Error("storage.file.flush_failed", "path", f.path, "op", op, "error", err.Error())
		return err
	}
	return nil
}

func (f *File) Get(ctx context.Context, key string) (*core.Asset, Tags, error) {
	return f.mem.Get(ctx, key)
}

func (f *File) Contains(ctx context.Context, key string) (bool, error) {
	return f.mem.Contains(ctx, key)
}

func (f *File) Keys(ctx context.Context) ([]string, error) { return f.mem.Keys(ctx) }

func (f *File) Len(ctx context.Context) (int, error) { return f.mem.Len(ctx) }

func (f *File) Filter(ctx context.Context, p Predicate) ([]string, error) {
	return f.mem.Filter(ctx, p)
}

func (f *File) FilterByTags(ctx context.Context, tags Tags, mode TagMatch) ([]string, error) {
	return f.mem.FilterByTags(ctx, tags, mode)
}

// Close rejects further mutations.  Every successful mutation is already on
// disk.
func (f *File) Close() error {
	f.mem.mu.Lock()
	defer f.mem.mu.Unlock()
	f.closed = true
	return nil
}

// ── Persistence ───────────────────────────────────────────────────────────────

// flush writes the in-memory state to a temporary file beside the store and
// renames it over the store.  Callers hold the write lock.
func (f *File) flush() error {
	snap := snapshot{Records: make([]record, 0, len(f.mem.order))}
	for _, k := range f.mem.order {
		e := f.mem.entries[k]
		snap.Records = append(snap.Records, newRecord(k, e.asset, e.tags))
	}
	data, err := encodeFile(snap, f.comp)
	if err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "file.encode", err)
	}
	if err := writeAtomic(f.path, data, f.perm); err != nil {
		return apperrors.Wrap(apperrors.CategoryStorage, "file.write", err)
	}
	f.log.Debug("storage.file.flushed", "path", f.path, "entries", len(snap.Records), "bytes", len(data))
	return nil
}

func writeAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return fail(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

func encodeFile(snap snapshot, comp Compression) ([]byte, error) {
	payload, err := encMode.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	body, used, err := compress(payload, comp)
	if err != nil {
		return nil, err
	}
	sum := digest(body)

	out := make([]byte, 0, fileHeaderSize+len(body))
	out = append(out, fileMagic[:]...)
	out = append(out, fileVersion, byte(used), 0, 0)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(payload)))
	out = append(out, sum[:]...)
	return append(out, body...), nil
}

func decodeFile(data []byte) (snapshot, error) {
	var snap snapshot
	if len(data) < fileHeaderSize {
		return snap, fmt.Errorf("file of %d bytes is shorter than the header", len(data))
	}
	if !bytes.Equal(data[:4], fileMagic[:]) {
		return snap, fmt.Errorf("bad magic %q", data[:4])
	}
	if v := data[4]; v != fileVersion {
		return snap, fmt.Errorf("unsupported version %d", v)
	}
	comp := Compression(data[5])
	size := binary.LittleEndian.Uint64(data[8:16])
	body := data[fileHeaderSize:]
	if sum := digest(body); !bytes.Equal(sum[:], data[16:48]) {
		return snap, errors.New("digest mismatch")
	}
	if size > uint64(len(body))*1024+1<<20 {
		return snap, fmt.Errorf("implausible body size %d", size)
	}
	payload, err := decompress(body, comp, int(size))
	if err != nil {
		return snap, err
	}
	if err := decMode.Unmarshal(payload, &snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func digest(body []byte) [32]byte {
	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("storage: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(body)
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

var _ Storage[string] = (*File)(nil)
