//go:build ignore
// +build ignore

// Writes small reference volumes into testdata/ for manual inspection with
// external viewers: go run testdata/generators/generate_test_files.go
package main

import (
	"log"
	"path/filepath"

	"github.com/scigolib/volio"
)

func main() {
	v, err := volio.NewVolume(8, 8, 4, 3, volio.Short)
	if err != nil {
		log.Fatal(err)
	}
	for f := 0; f < v.Frames(); f++ {
		for z := 0; z < v.Depth(); z++ {
			for y := 0; y < v.Height(); y++ {
				for x := 0; x < v.Width(); x++ {
					v.SetVoxel(x, y, z, f, float64(100*f+10*z+x+y))
				}
			}
		}
	}
	v.SetGeometry(volio.Frame{
		Spacing: volio.Vec3{1, 1, 2.5},
		Axes:    [3]volio.Vec3{{-1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Center:  volio.Vec3{0, -18, 10},
		Valid:   true,
	})
	v.Acq.TR = 2000
	v.AddCommand("generate_test_files")

	opt := volio.WithCompression(volio.CompressBuiltin)
	for _, name := range []string{"ramp.mgh", "ramp.mgz", "ramp.nii", "ramp.nii.gz", "ramp.img"} {
		if err := volio.Write(v, filepath.Join("testdata", name), opt); err != nil {
			log.Fatalf("%s: %v", name, err)
		}
	}

	// COR holds exactly 256^3 uchar voxels.
	cor, err := volio.NewVolume(256, 256, 256, 1, volio.UChar)
	if err != nil {
		log.Fatal(err)
	}
	cor.SetGeometry(volio.Frame{
		Spacing: volio.Vec3{1, 1, 1},
		Axes:    [3]volio.Vec3{{-1, 0, 0}, {0, 0, -1}, {0, 1, 0}},
		Valid:   true,
	})
	for z := 0; z < cor.Depth(); z++ {
		for y := 0; y < cor.Height(); y++ {
			for x := 0; x < cor.Width(); x++ {
				cor.SetVoxel(x, y, z, 0, float64((x+y+z)%256))
			}
		}
	}
	if err := volio.Write(cor, filepath.Join("testdata", "cor")+"/", opt); err != nil {
		log.Fatalf("cor: %v", err)
	}
}
