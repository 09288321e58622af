package registry

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/scigolib/volio/internal/utils"
)

// Target is a parsed volume path.
type Target struct {
	Path   string      // filesystem path with selectors stripped
	Type   string      // forced format name from @TYPE, or empty
	Frames *FrameRange // selection from #start[:end], or nil
}

var frameSuffix = regexp.MustCompile(`#(\d+)(?::(\d+))?$`)

// ParsePath strips the optional trailing "@TYPE" and "#start[:end]"
// selectors from raw. Either may come first. "@TYPE" is only recognized when
// TYPE names a registered format, so paths that merely contain '@' are left
// alone.
func (r *Registry) ParsePath(raw string) (Target, error) {
	t := Target{Path: raw}
	t.Path, t.Type = r.stripType(t.Path)

	if m := frameSuffix.FindStringSubmatchIndex(t.Path); m != nil {
		start, err := strconv.Atoi(t.Path[m[2]:m[3]])
		if err != nil {
			return t, utils.Errorf(utils.ErrFrameRange, "frame selector in %q", raw)
		}
		end := start
		if m[4] >= 0 {
			if end, err = strconv.Atoi(t.Path[m[4]:m[5]]); err != nil {
				return t, utils.Errorf(utils.ErrFrameRange, "frame selector in %q", raw)
			}
		}
		if end < start {
			return t, utils.Errorf(utils.ErrFrameRange, "frame selector %d:%d in %q", start, end, raw)
		}
		t.Frames = &FrameRange{Start: start, End: end}
		t.Path = t.Path[:m[0]]
	}

	if t.Type == "" {
		t.Path, t.Type = r.stripType(t.Path)
	}
	return t, nil
}

func (r *Registry) stripType(p string) (string, string) {
	at := strings.LastIndexByte(p, '@')
	if at < 0 {
		return p, ""
	}
	name := p[at+1:]
	if _, ok := r.Lookup(name); !ok {
		return p, ""
	}
	return p[:at], name
}

// AppendType returns path with an "@TYPE" suffix forcing format id.
func AppendType(path string, id FormatID) string {
	return path + "@" + string(id)
}

// String formats t back into selector syntax.
func (t Target) String() string {
	s := t.Path
	if t.Frames != nil {
		s += t.Frames.String()
	}
	if t.Type != "" {
		s += "@" + t.Type
	}
	return s
}
