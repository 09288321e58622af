// Package cor reads and writes COR directories: a COR-.info text header and
// one raw uint8 file per coronal slice.
package cor

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/scigolib/volio/internal/core"
	"github.com/scigolib/volio/internal/geometry"
	"github.com/scigolib/volio/internal/utils"
)

// InfoName is the header file inside a COR directory.
const InfoName = "COR-.info"

// SliceTemplate names slice files by index.
const SliceTemplate = "COR-%03d"

// Info is the parsed COR-.info header. Lengths are in meters as stored.
type Info struct {
	First, Last   int // imnr0, imnr1
	PType         int
	Width, Height int
	FOV           float64
	Thick         float64
	PSize         float64
	Location      float64
	Start, End    [3]float64
	Acq           core.Acquisition // ms; flip angle in radians
	GoodRAS       bool
	Axes          [3]geometry.Vec3
	Center        geometry.Vec3 // mm
}

// ConformedSize is the only width, height and depth COR stores.
const ConformedSize = 256

// DefaultInfo returns the header of a conventional 256^3 1mm COR volume.
func DefaultInfo() *Info {
	return &Info{
		First: 1, Last: 256, PType: 2,
		Width: 256, Height: 256,
		FOV: 0.256, Thick: 0.001, PSize: 0.001,
		Start: [3]float64{-0.128, -0.128, -0.128},
		End:   [3]float64{0.128, 0.128, 0.128},
		Axes:  [3]geometry.Vec3{geometry.DefaultX, geometry.DefaultY, geometry.DefaultZ},
	}
}

// Depth returns the number of slices.
func (in *Info) Depth() int { return in.Last - in.First + 1 }

// Spacing returns voxel sizes in mm.
func (in *Info) Spacing() geometry.Vec3 {
	return geometry.Vec3{in.PSize * 1000, in.PSize * 1000, in.Thick * 1000}
}

// ParseInfo reads a COR-.info header. Unknown keys are ignored.
func ParseInfo(r io.Reader) (*Info, error) {
	in := DefaultInfo()
	seen := map[string]bool{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		key, vals := f[0], f[1:]
		if key == "flip" && len(vals) > 0 && vals[0] == "angle" {
			key, vals = "flip angle", vals[1:]
		}
		nums := make([]float64, 0, len(vals))
		for _, s := range vals {
			x, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %q: %w", InfoName, line, key, err)
			}
			nums = append(nums, x)
		}
		if err := in.set(key, nums); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", InfoName, line, err)
		}
		seen[key] = true
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	for _, k := range []string{"imnr0", "imnr1", "x", "y"} {
		if !seen[k] {
			return nil, utils.Errorf(utils.ErrTruncatedData, "%s has no %s", InfoName, k)
		}
	}
	if in.Width <= 0 || in.Height <= 0 || in.Depth() <= 0 {
		return nil, utils.Errorf(utils.ErrBadMagic, "%s declares %dx%dx%d", InfoName, in.Width, in.Height, in.Depth())
	}
	return in, nil
}

func (in *Info) set(key string, v []float64) error {
	want := 1
	switch key {
	case "x_ras", "y_ras", "z_ras", "c_ras":
		want = 3
	}
	if len(v) < want {
		return fmt.Errorf("%q needs %d values", key, want)
	}
	switch key {
	case "imnr0":
		in.First = int(v[0])
	case "imnr1":
		in.Last = int(v[0])
	case "ptype":
		in.PType = int(v[0])
	case "x":
		in.Width = int(v[0])
	case "y":
		in.Height = int(v[0])
	case "fov":
		in.FOV = v[0]
	case "thick":
		in.Thick = v[0]
	case "psiz":
		in.PSize = v[0]
	case "locatn":
		in.Location = v[0]
	case "strtx", "strty", "strtz":
		in.Start[key[4]-'x'] = v[0]
	case "endx", "endy", "endz":
		in.End[key[3]-'x'] = v[0]
	case "tr":
		in.Acq.TR = v[0]
	case "te":
		in.Acq.TE = v[0]
	case "ti":
		in.Acq.TI = v[0]
	case "flip angle":
		in.Acq.FlipAngle = v[0]
	case "ras_good_flag":
		in.GoodRAS = v[0] != 0
	case "x_ras", "y_ras", "z_ras":
		in.Axes[key[0]-'x'] = geometry.Vec3{v[0], v[1], v[2]}
	case "c_ras":
		in.Center = geometry.Vec3{v[0], v[1], v[2]}
	}
	return nil
}

// WriteTo writes the header in the layout other tools expect.
func (in *Info) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	line := func(key string, vals ...float64) {
		b.WriteString(key)
		for _, x := range vals {
			b.WriteByte(' ')
			b.WriteString(strconv.FormatFloat(x, 'f', -1, 64))
		}
		b.WriteByte('\n')
	}
	line("imnr0", float64(in.First))
	line("imnr1", float64(in.Last))
	line("ptype", float64(in.PType))
	line("x", float64(in.Width))
	line("y", float64(in.Height))
	line("fov", in.FOV)
	line("thick", in.Thick)
	line("psiz", in.PSize)
	line("locatn", in.Location)
	for i, c := range []string{"x", "y", "z"} {
		line("strt"+c, in.Start[i])
		line("end"+c, in.End[i])
	}
	line("tr", in.Acq.TR)
	line("te", in.Acq.TE)
	line("ti", in.Acq.TI)
	line("flip angle", in.Acq.FlipAngle)
	flag := 0.0
	if in.GoodRAS {
		flag = 1
	}
	line("ras_good_flag", flag)
	for i, name := range []string{"x_ras", "y_ras", "z_ras"} {
		line(name, in.Axes[i][:]...)
	}
	line("c_ras", in.Center[:]...)
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// infoFor derives the header of v.
func infoFor(v *core.Volume) *Info {
	fr := v.Geometry()
	sp := fr.Spacing
	in := &Info{
		First: 1, Last: v.Depth(), PType: 2,
		Width: v.Width(), Height: v.Height(),
		Thick:   sp[2] / 1000,
		PSize:   sp[0] / 1000,
		Acq:     v.Acq,
		GoodRAS: fr.Valid,
		Axes:    fr.Axes,
		Center:  fr.Center,
	}
	in.FOV = float64(max(v.Width(), v.Height())) * in.PSize
	ext := [3]float64{float64(v.Width()) * sp[0], float64(v.Height()) * sp[1], float64(v.Depth()) * sp[2]}
	for i := range ext {
		in.Start[i] = -ext[i] / 2000
		in.End[i] = ext[i] / 2000
	}
	return in
}
