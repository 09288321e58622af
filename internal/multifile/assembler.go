// Package multifile discovers the sibling files that make up one logical
// volume and maps slices and frames onto them.
//
// Two layouts are supported:
//   - numbered sequences (stem001.ext, stem002.ext, ... or stem1.ext, stem2.ext, ...)
//     discovered by probing outward from a seed file;
//   - fixed directories whose slice files follow a name template (COR-%03d).
//
// Discovery only checks for existence; nothing is ever written here.
package multifile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	logging "github.com/ipfs/go-log/v2"

	"github.com/scigolib/volio/internal/utils"
)

var log = logging.Logger("volio/multifile")

// Entry maps a region of the volume onto one file.
type Entry struct {
	Path       string
	Offset     int64 // byte offset of the region within Path
	FirstSlice int
	LastSlice  int
	Frame      int
}

// SliceMap lists the files that supply a volume, in slice-then-frame order.
type SliceMap struct {
	Entries []Entry
}

// Len returns the number of entries.
func (m *SliceMap) Len() int { return len(m.Entries) }

// Paths returns the file paths in order.
func (m *SliceMap) Paths() []string {
	out := make([]string, len(m.Entries))
	for i, e := range m.Entries {
		out[i] = e.Path
	}
	return out
}

// PerSlice builds a map where each file holds one slice of frame 0..frames-1,
// files ordered slice-fastest within each frame.
func PerSlice(paths []string, depth, frames int) (*SliceMap, error) {
	if len(paths) != depth*frames {
		return nil, utils.Errorf(utils.ErrInconsistentSliceCount,
			"%d files for %d slices x %d frames", len(paths), depth, frames)
	}
	m := &SliceMap{Entries: make([]Entry, len(paths))}
	for i, p := range paths {
		z := i % depth
		m.Entries[i] = Entry{Path: p, FirstSlice: z, LastSlice: z, Frame: i / depth}
	}
	return m, nil
}

// PerFrame builds a map where each file holds every slice of one frame.
func PerFrame(paths []string, depth int) *SliceMap {
	m := &SliceMap{Entries: make([]Entry, len(paths))}
	for i, p := range paths {
		m.Entries[i] = Entry{Path: p, FirstSlice: 0, LastSlice: depth - 1, Frame: i}
	}
	return m
}

// Sequence is a run of files named Dir/Prefix + index + Suffix.
// Width is the zero-padded index width, or 0 for unpadded indices.
type Sequence struct {
	Dir    string
	Prefix string
	Suffix string
	Width  int
	First  int
	Last   int
}

// Count returns the number of files in the sequence.
func (s *Sequence) Count() int { return s.Last - s.First + 1 }

// Name returns the path of index i under the sequence's numbering scheme.
func (s *Sequence) Name(i int) string {
	return filepath.Join(s.Dir, s.Prefix+formatIndex(i, s.Width)+s.Suffix)
}

// Paths returns every path of the sequence in ascending index order.
func (s *Sequence) Paths() []string {
	out := make([]string, 0, s.Count())
	for i := s.First; i <= s.Last; i++ {
		out = append(out, s.Name(i))
	}
	return out
}

func formatIndex(i, width int) string {
	if width <= 0 {
		return strconv.Itoa(i)
	}
	return fmt.Sprintf("%0*d", width, i)
}

// SplitNumbered splits a file name into the text before its last run of
// digits, the digits, and the text after. The trailing text is the
// extension when the digits end the stem ("stem007.img"), or empty when the
// digits end the name ("I.007"). ok is false when the name has no digits.
func SplitNumbered(name string) (prefix, digits, suffix string, ok bool) {
	end := len(name)
	for end > 0 && !unicode.IsDigit(rune(name[end-1])) {
		end--
	}
	if end == 0 {
		return "", "", "", false
	}
	start := end
	for start > 0 && unicode.IsDigit(rune(name[start-1])) {
		start--
	}
	return name[:start], name[start:end], name[end:], true
}

// ScanSequence discovers the contiguous numbered run containing seed.
//
// The zero-padded scheme implied by the seed's digits is tried first, then
// the unpadded one. When declared is positive the run must contain exactly
// declared files, otherwise ErrInconsistentSliceCount is returned.
func ScanSequence(seed string, declared int) (*Sequence, error) {
	if !exists(seed) {
		return nil, utils.WrapError(seed, utils.ErrNoSuchFile)
	}
	dir, base := filepath.Split(seed)
	prefix, digits, suffix, ok := SplitNumbered(base)
	if !ok {
		return nil, fmt.Errorf("%s has no numeric suffix to scan", seed)
	}
	index, err := strconv.Atoi(digits)
	if err != nil {
		return nil, fmt.Errorf("slice index %q: %w", digits, err)
	}

	var best *Sequence
	for _, width := range []int{len(digits), 0} {
		s := &Sequence{Dir: filepath.Clean(dir), Prefix: prefix, Suffix: suffix, Width: width}
		if s.Name(index) != filepath.Join(s.Dir, base) {
			continue
		}
		s.First, s.Last = index, index
		for s.First > 0 && exists(s.Name(s.First-1)) {
			s.First--
		}
		for exists(s.Name(s.Last + 1)) {
			s.Last++
		}
		log.Debugw("scanned sequence", "seed", seed, "width", width, "first", s.First, "last", s.Last)

		if declared > 0 && s.Count() == declared {
			return s, nil
		}
		if best == nil || s.Count() > best.Count() {
			best = s
		}
	}

	if best == nil {
		return nil, fmt.Errorf("%s does not match any numbering scheme", seed)
	}
	if declared > 0 {
		return nil, utils.Errorf(utils.ErrInconsistentSliceCount,
			"found %d files %s..%s, header declares %d",
			best.Count(), filepath.Base(best.Name(best.First)), filepath.Base(best.Name(best.Last)), declared)
	}
	return best, nil
}

// FindNumbered returns the first existing path among prefix+start+suffix
// with 3-digit zero padding and unpadded.
func FindNumbered(prefix, suffix string, start int) (string, bool) {
	for _, width := range []int{3, 0} {
		p := prefix + formatIndex(start, width) + suffix
		if exists(p) {
			return p, true
		}
	}
	return "", false
}

// Directory checks that template-named slice files first..last all exist in
// dir and returns them as a one-slice-per-file map. A missing slice fails
// with ErrInconsistentSliceCount.
func Directory(dir, template string, first, last int) (*SliceMap, error) {
	if !isDir(dir) {
		return nil, utils.WrapError(dir, utils.ErrNoSuchFile)
	}
	paths := DirectoryPaths(dir, template, first, last)
	var missing []string
	for _, p := range paths {
		if !exists(p) {
			missing = append(missing, filepath.Base(p))
		}
	}
	if len(missing) > 0 {
		shown := missing
		if len(shown) > 3 {
			shown = shown[:3]
		}
		return nil, utils.Errorf(utils.ErrInconsistentSliceCount,
			"%d of %d slices present in %s (missing %s)",
			len(paths)-len(missing), len(paths), dir, strings.Join(shown, ", "))
	}
	return PerSlice(paths, len(paths), 1)
}

// DirectoryPaths expands template for indices first..last inside dir.
func DirectoryPaths(dir, template string, first, last int) []string {
	paths := make([]string, 0, last-first+1)
	for i := first; i <= last; i++ {
		paths = append(paths, filepath.Join(dir, fmt.Sprintf(template, i)))
	}
	return paths
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
