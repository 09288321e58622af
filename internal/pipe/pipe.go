// Package pipe provides gzip decompression and compression streams for the
// compressed volume variants, either through an external filter process
// whose stdout/stdin is the byte source/sink, or in process.
package pipe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/multierr"

	"github.com/scigolib/volio/internal/utils"
)

var log = logging.Logger("volio/pipe")

// Mode selects how compressed streams are produced.
type Mode int

const (
	// External spawns the configured program (gzip by default).
	External Mode = iota
	// Builtin compresses in process.
	Builtin
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	if m == Builtin {
		return "builtin"
	}
	return "external"
}

// ParseMode converts a configuration string to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "external":
		return External, nil
	case "builtin":
		return Builtin, nil
	default:
		return External, fmt.Errorf("unknown compression mode %q", s)
	}
}

// Config selects and parameterizes the compression backend.
type Config struct {
	Mode    Mode
	Program string // external filter; "gzip" when empty
	Level   int    // 1..9; 6 when out of range
}

func (c Config) program() string {
	if c.Program == "" {
		return "gzip"
	}
	return c.Program
}

func (c Config) level() int {
	if c.Level < 1 || c.Level > 9 {
		return 6
	}
	return c.Level
}

// OpenReader returns the decompressed contents of path. Close must always be
// called; for the external backend it reaps the process and reports a
// non-zero exit status when the stream was read to the end.
func OpenReader(path string, cfg Config) (io.ReadCloser, error) {
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}

	if cfg.Mode == Builtin {
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, utils.WrapError("gzip header of "+path, utils.ErrBadMagic)
		}
		return &builtinReader{zr: zr, f: f}, nil
	}

	prog, err := exec.LookPath(cfg.program())
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError(cfg.program(), utils.ErrExternalToolUnavailable)
	}
	//nolint:gosec // G204: program comes from configuration
	cmd := exec.Command(prog, "-dc")
	cmd.Stdin = f
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError("stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		_ = f.Close()
		return nil, utils.WrapError(fmt.Sprintf("start %s: %v", prog, err), utils.ErrExternalToolUnavailable)
	}
	log.Debugw("spawned decompressor", "program", prog, "path", path, "pid", cmd.Process.Pid)
	return &processReader{cmd: cmd, stdout: stdout, f: f}, nil
}

// CreateWriter returns a stream whose bytes are gzip-compressed into path.
// Close flushes, reaps the external process and closes the file; any failure
// along the way is reported.
func CreateWriter(path string, cfg Config) (io.WriteCloser, error) {
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Create(path)
	if err != nil {
		return nil, utils.WrapError("create "+path, err)
	}

	if cfg.Mode == Builtin {
		zw, err := gzip.NewWriterLevel(f, cfg.level())
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("gzip writer creation failed: %w", err)
		}
		return &builtinWriter{zw: zw, f: f}, nil
	}

	prog, err := exec.LookPath(cfg.program())
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError(cfg.program(), utils.ErrExternalToolUnavailable)
	}
	//nolint:gosec // G204: program comes from configuration
	cmd := exec.Command(prog, "-c", "-"+strconv.Itoa(cfg.level()))
	cmd.Stdout = f
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = f.Close()
		return nil, utils.WrapError("stdin pipe", err)
	}
	if err := cmd.Start(); err != nil {
		_ = f.Close()
		return nil, utils.WrapError(fmt.Sprintf("start %s: %v", prog, err), utils.ErrExternalToolUnavailable)
	}
	log.Debugw("spawned compressor", "program", prog, "path", path, "pid", cmd.Process.Pid)
	return &processWriter{cmd: cmd, stdin: stdin, f: f}, nil
}

func openError(path string, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return utils.WrapError(path, utils.ErrNoSuchFile)
	}
	return utils.WrapError("open "+path, err)
}

type processReader struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	f      *os.File
	eof    bool
	once   sync.Once
	err    error
}

func (r *processReader) Read(p []byte) (int, error) {
	n, err := r.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		r.eof = true
	}
	return n, err
}

// drainLimit bounds how much unread output Close consumes while looking for
// EOF before giving up and killing the process.
const drainLimit = 64 * 1024

// Close reaps the process. Trailing output is drained up to drainLimit so the
// exit status can be checked; a stream abandoned earlier than that kills the
// process and does not treat the resulting signal exit as a failure.
func (r *processReader) Close() error {
	r.once.Do(func() {
		var errs error
		if !r.eof {
			if _, err := io.CopyN(io.Discard, r.stdout, drainLimit); errors.Is(err, io.EOF) {
				r.eof = true
			}
		}
		if !r.eof {
			if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				errs = multierr.Append(errs, err)
			}
		}
		waitErr := r.cmd.Wait()
		if r.eof && waitErr != nil {
			errs = multierr.Append(errs, fmt.Errorf("decompressor exited: %w", waitErr))
		}
		errs = multierr.Append(errs, r.f.Close())
		r.err = errs
	})
	return r.err
}

type processWriter struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	f     *os.File
	once  sync.Once
	err   error
}

func (w *processWriter) Write(p []byte) (int, error) {
	return w.stdin.Write(p)
}

func (w *processWriter) Close() error {
	w.once.Do(func() {
		errs := w.stdin.Close()
		if err := w.cmd.Wait(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("compressor exited: %w", err))
		}
		w.err = multierr.Append(errs, w.f.Close())
	})
	return w.err
}

type builtinReader struct {
	zr *gzip.Reader
	f  *os.File
}

func (r *builtinReader) Read(p []byte) (int, error) { return r.zr.Read(p) }

func (r *builtinReader) Close() error {
	return multierr.Combine(r.zr.Close(), r.f.Close())
}

type builtinWriter struct {
	zw *gzip.Writer
	f  *os.File
}

func (w *builtinWriter) Write(p []byte) (int, error) { return w.zw.Write(p) }

func (w *builtinWriter) Close() error {
	return multierr.Combine(w.zw.Close(), w.f.Close())
}
