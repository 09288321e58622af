// Command volio inspects and converts medical image volumes.
package main

import (
	"log"
	"os"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/scigolib/volio"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "volio",
		Usage: "Inspect and convert medical image volumes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:      "config",
				Usage:     "YAML configuration file",
				TakesFile: true,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level for volio loggers (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "compression",
				Usage: "gzip handling: external or builtin",
			},
		},
		Before: func(c *cli.Context) error {
			if lvl := c.String("log-level"); lvl != "" {
				return logging.SetLogLevelRegex("volio.*", lvl)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Aliases:   []string{"i"},
				Usage:     "Print the header of one or more volumes",
				ArgsUsage: "<volume>...",
				Action:    InfoVolume,
				Flags: []cli.Flag{
					&cli.IntSliceFlag{
						Name:  "voxel",
						Usage: "also read the payload and print the value at x,y,z of frame 0",
					},
				},
			},
			{
				Name:      "convert",
				Aliases:   []string{"c"},
				Usage:     "Read a volume and write it in another format",
				ArgsUsage: "<in> <out>",
				Action:    ConvertVolume,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "in-type",
						Usage: "force the input format",
					},
					&cli.StringFlag{
						Name:  "out-type",
						Usage: "force the output format",
					},
					&cli.StringFlag{
						Name:  "subject",
						Usage: "subject name attached to log output",
					},
				},
			},
			{
				Name:      "dump",
				Aliases:   []string{"d"},
				Usage:     "Hex dump raw bytes of a file",
				ArgsUsage: "<file>",
				Action:    DumpFile,
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "offset",
						Usage: "offset in file to start dumping from",
					},
					&cli.IntFlag{
						Name:  "length",
						Usage: "number of bytes to dump",
						Value: 128,
					},
				},
			},
			{
				Name:      "config",
				Usage:     "Print the effective configuration, or save it to a file",
				ArgsUsage: "[file]",
				Action:    ShowConfig,
			},
			{
				Name:   "formats",
				Usage:  "List supported formats",
				Action: ListFormats,
			},
		},
	}
}

// session builds the per-invocation session from the global flags.
func session(c *cli.Context) (*volio.Session, error) {
	s := volio.NewSession()
	if p := c.String("config"); p != "" {
		cfg, err := volio.LoadConfig(p)
		if err != nil {
			return nil, err
		}
		s.Config = cfg
	}
	if m := c.String("compression"); m != "" {
		s.Config.Compression.Mode = m
		if err := s.Config.Validate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}
