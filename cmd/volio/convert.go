package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/scigolib/volio"
)

// ConvertVolume reads the first argument and writes it to the second.
// Frame selectors on the input are honored.
func ConvertVolume(c *cli.Context) error {
	if c.Args().Len() != 2 {
		return fmt.Errorf("convert: expected <in> <out>")
	}
	s, err := session(c)
	if err != nil {
		return err
	}
	s.Subject = c.String("subject")
	s.CommandLine = strings.Join(append([]string{c.App.Name, c.Command.Name}, c.Args().Slice()...), " ")

	in, out := c.Args().Get(0), c.Args().Get(1)
	var inOpts, outOpts []volio.Option
	inOpts = append(inOpts, volio.WithSession(s))
	outOpts = append(outOpts, volio.WithSession(s))
	if t := c.String("in-type"); t != "" {
		d, ok := volio.LookupFormat(t)
		if !ok {
			return fmt.Errorf("convert: unknown input type %q", t)
		}
		in = volio.AppendType(in, d.ID)
	}
	if t := c.String("out-type"); t != "" {
		outOpts = append(outOpts, volio.WithFormat(t))
	}

	var report volio.ReadReport
	v, err := volio.Read(in, append(inOpts, volio.WithReport(&report))...)
	if err != nil {
		return err
	}
	if err := volio.Write(v, out, outOpts...); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s (%s) -> %s: %dx%dx%dx%d %s\n",
		in, report.Format, out, v.Width(), v.Height(), v.Depth(), v.Frames(), v.Type())
	return nil
}
