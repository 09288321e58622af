package registry

import (
	"errors"
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"

	"github.com/scigolib/volio/internal/utils"
)

// Classify resolves the format of path, which must already be stripped of
// any @TYPE and #frames suffixes. Resolution order:
//
//  1. override, when non-empty, must name a registered format;
//  2. a compressed extension (.mgz, .nii.gz, ...) decides immediately, since
//     a gzip stream carries no format magic of its own;
//  3. content probes in registration order, over the decompressed prefix
//     when the file is gzip;
//  4. the extension table.
//
// Classify only reads from the filesystem.
func (r *Registry) Classify(path, override string) (*Descriptor, error) {
	if override != "" {
		d, ok := r.Lookup(override)
		if !ok {
			return nil, utils.Errorf(utils.ErrUnknownFormat, "format override %q, known formats %v", override, r.IDs())
		}
		return d, nil
	}

	if d, ok := r.byCompressedExtension(path); ok {
		return d, nil
	}

	in, err := sniff(path)
	switch {
	case err == nil:
		for _, d := range r.descs {
			if d.Probe != nil && d.Probe(in) {
				log.Debugw("classified by content", "path", path, "format", d.ID)
				return d, nil
			}
		}
	case errors.Is(err, utils.ErrNoSuchFile):
		// Writers classify paths that do not exist yet.
	default:
		return nil, err
	}

	if d, ok := r.ByExtension(path); ok {
		return d, nil
	}
	return nil, utils.WrapError(path, utils.ErrUnknownFormat)
}

// ClassifyForWrite resolves the format of a destination path by override or
// extension only.
func (r *Registry) ClassifyForWrite(path, override string) (*Descriptor, error) {
	var (
		d  *Descriptor
		ok bool
	)
	if override != "" {
		d, ok = r.Lookup(override)
	} else {
		d, ok = r.ByExtension(path)
	}
	if !ok {
		return nil, utils.WrapError(path, utils.ErrUnknownFormat)
	}
	if !d.Capabilities.Has(CapWrite) {
		return nil, utils.Errorf(utils.ErrUnknownFormat, "format %s cannot be written", d.ID)
	}
	return d, nil
}

func sniff(path string) (ProbeInput, error) {
	in := ProbeInput{Path: path}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return in, utils.WrapError(path, utils.ErrNoSuchFile)
		}
		return in, utils.WrapError("stat "+path, err)
	}
	if fi.IsDir() {
		in.IsDir = true
		return in, nil
	}

	prefix, err := readPrefix(path)
	if err != nil {
		return in, err
	}
	in.Prefix = prefix

	if mimetype.Detect(prefix).Is("application/gzip") {
		inner, err := readGzipPrefix(path)
		if err != nil {
			log.Debugw("gzip prefix unreadable", "path", path, "error", err)
			return in, nil
		}
		in.Prefix = inner
		in.Gzipped = true
	}
	return in, nil
}

func readPrefix(path string) ([]byte, error) {
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.WrapError("open "+path, err)
	}
	defer func() { _ = f.Close() }()
	return readUpTo(f, utils.HeaderBufferSize)
}

func readGzipPrefix(path string) ([]byte, error) {
	//nolint:gosec // G304: caller-supplied volume path
	f, err := os.Open(path)
	if err != nil {
		return nil, utils.WrapError("open "+path, err)
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer func() { _ = zr.Close() }()
	return readUpTo(zr, utils.HeaderBufferSize)
}

func readUpTo(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(r, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return buf[:got], nil
}
