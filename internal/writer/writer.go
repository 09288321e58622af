// Package writer provides the byte sink codecs write volumes into: a plain
// file or a compression pipe, with offset tracking and slice-at-a-time voxel
// encoding.
package writer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/multierr"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/pipe"
	"github.com/scigolib/volio/internal/utils"
)

var log = logging.Logger("volio/writer")

// FileWriter writes a volume file sequentially.
//
// Thread-safety: Not thread-safe. Caller must synchronize access.
type FileWriter struct {
	path   string
	w      io.WriteCloser
	file   *os.File // nil for compressed output
	offset int64
}

// CreateMode specifies the file creation behavior.
type CreateMode int

const (
	// ModeTruncate creates a new file, truncating if it exists.
	ModeTruncate CreateMode = iota

	// ModeExclusive creates a new file, fails if it exists.
	ModeExclusive
)

// NewFileWriter creates path for writing. When compress is non-nil the bytes
// are gzip-compressed through the pipe package; compressed output is always
// truncated.
func NewFileWriter(path string, mode CreateMode, compress *pipe.Config) (*FileWriter, error) {
	if compress != nil {
		w, err := pipe.CreateWriter(path, *compress)
		if err != nil {
			return nil, err
		}
		return &FileWriter{path: path, w: w}, nil
	}

	var (
		f   *os.File
		err error
	)
	switch mode {
	case ModeTruncate:
		//nolint:gosec // G304: caller-supplied volume path
		f, err = os.Create(path)
	case ModeExclusive:
		//nolint:gosec // G304: caller-supplied volume path
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	default:
		return nil, fmt.Errorf("invalid create mode: %d", mode)
	}
	if err != nil {
		return nil, utils.WrapError("create "+path, err)
	}
	return &FileWriter{path: path, w: f, file: f}, nil
}

// Path returns the file being written.
func (w *FileWriter) Path() string { return w.path }

// Offset returns the number of bytes written so far.
func (w *FileWriter) Offset() int64 { return w.offset }

// Compressed reports whether output goes through a compression pipe.
func (w *FileWriter) Compressed() bool { return w.file == nil }

// Write implements io.Writer.
func (w *FileWriter) Write(p []byte) (int, error) {
	if w.w == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	n, err := w.w.Write(p)
	w.offset += int64(n)
	if err != nil {
		return n, utils.WrapError(fmt.Sprintf("write %s at %d", w.path, w.offset), err)
	}
	return n, nil
}

// PadTo writes zero bytes until Offset reaches to.
func (w *FileWriter) PadTo(to int64) error {
	if to < w.offset {
		return fmt.Errorf("%s: cannot pad to %d, already at %d", w.path, to, w.offset)
	}
	_, err := w.Write(make([]byte, to-w.offset))
	return err
}

// WriteVoxels encodes n voxels of v starting at linear index off as storage
// type st, one slice at a time.
func (w *FileWriter) WriteVoxels(v *core.Volume, off, n int, st core.StorageType, order binary.ByteOrder) error {
	slice := v.Width() * v.Height()
	if slice <= 0 {
		return fmt.Errorf("empty slice")
	}
	for done := 0; done < n; {
		count := min(slice, n-done)
		raw, err := v.EncodeRaw(off+done, count, st, order)
		if err != nil {
			return err
		}
		if _, err := w.Write(raw); err != nil {
			return err
		}
		done += count
	}
	return nil
}

// Flush commits plain-file writes to disk. Close calls it.
func (w *FileWriter) Flush() error {
	if w.file == nil {
		return nil
	}
	return w.file.Sync()
}

// Close finishes the file. For compressed output this waits for the
// compressor and reports its exit status. Close is idempotent.
func (w *FileWriter) Close() error {
	if w.w == nil {
		return nil
	}
	err := multierr.Append(w.Flush(), w.w.Close())
	w.w, w.file = nil, nil
	if err != nil {
		return utils.WrapError("close "+w.path, err)
	}
	log.Debugw("wrote file", "path", w.path, "bytes", w.offset)
	return nil
}

// Abort closes the file after a failed write and removes it, returning
// cause combined with any cleanup failure.
func (w *FileWriter) Abort(cause error) error {
	err := multierr.Append(cause, w.Close())
	if rmErr := os.Remove(w.path); rmErr != nil && !os.IsNotExist(rmErr) {
		err = multierr.Append(err, rmErr)
	}
	return err
}
