package main

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/mat"

	"github.com/scigolib/volio"
)

// InfoVolume prints the header of every volume named on the command line.
func InfoVolume(c *cli.Context) error {
	if c.Args().Len() < 1 {
		return fmt.Errorf("info: expected at least one volume")
	}
	s, err := session(c)
	if err != nil {
		return err
	}
	var voxel *[3]int
	if xyz := c.IntSlice("voxel"); len(xyz) > 0 {
		if len(xyz) != 3 {
			return fmt.Errorf("info: --voxel takes x,y,z")
		}
		voxel = &[3]int{xyz[0], xyz[1], xyz[2]}
	}

	out := c.App.Writer
	for _, path := range c.Args().Slice() {
		var report volio.ReadReport
		opts := []volio.Option{volio.WithSession(s), volio.WithReport(&report)}
		var v *volio.Volume
		if voxel != nil {
			v, err = volio.Read(path, opts...)
		} else {
			v, err = volio.ReadHeader(path, opts...)
		}
		if err != nil {
			return err
		}
		printHeader(out, path, v, &report)
		if voxel != nil {
			x, y, z := voxel[0], voxel[1], voxel[2]
			if !v.InBounds(x, y, z, 0) {
				return fmt.Errorf("info: voxel %d,%d,%d outside %dx%dx%d", x, y, z, v.Width(), v.Height(), v.Depth())
			}
			fmt.Fprintf(out, "voxel[%d,%d,%d]: %g\n", x, y, z, v.Voxel(x, y, z, 0))
		}
	}
	return nil
}

func printHeader(w io.Writer, path string, v *volio.Volume, r *volio.ReadReport) {
	fr := v.Geometry()
	payload := uint64(v.NumVoxels()) * uint64(v.Type().Size())
	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  format:      %s\n", r.Format)
	fmt.Fprintf(w, "  dimensions:  %d x %d x %d x %d\n", v.Width(), v.Height(), v.Depth(), v.Frames())
	fmt.Fprintf(w, "  type:        %s (%s)\n", v.Type(), humanize.Bytes(payload))
	fmt.Fprintf(w, "  voxel size:  %.4g x %.4g x %.4g mm\n", fr.Spacing[0], fr.Spacing[1], fr.Spacing[2])
	fmt.Fprintf(w, "  orientation: %s (%s)\n", fr.OrientationString(), r.Rule)
	fmt.Fprintf(w, "  center:      %.4f %.4f %.4f\n", fr.Center[0], fr.Center[1], fr.Center[2])
	fmt.Fprintf(w, "  TR %g ms  TE %g ms  TI %g ms  flip %.4g deg\n",
		v.Acq.TR, v.Acq.TE, v.Acq.TI, v.Acq.FlipAngle*180/math.Pi)
	fmt.Fprintln(w, "  voxel to ras:")
	m := v.VoxelToRAS()
	fa := mat.Formatted(m, mat.Prefix("    "), mat.Squeeze())
	fmt.Fprintf(w, "    %.4f\n", fa)
	if p := v.Provenance(); len(p) > 0 {
		fmt.Fprintf(w, "  history:\n    %s\n", strings.Join(p, "\n    "))
	}
}
