package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/scigolib/volio"
)

// ListFormats prints the registered formats in probe order.
func ListFormats(c *cli.Context) error {
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCAPABILITIES\tEXTENSIONS\tALIASES\tDESCRIPTION")
	for _, d := range volio.Formats() {
		exts := append(append([]string{}, d.Extensions...), d.CompressedExtensions...)
		if d.MultiFile && len(exts) == 0 {
			exts = []string{"(directory)"}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Capabilities,
			strings.Join(exts, ","), strings.Join(d.Aliases, ","), d.Description)
	}
	return tw.Flush()
}

// ShowConfig prints the effective configuration as YAML, or saves it when a
// file is named.
func ShowConfig(c *cli.Context) error {
	s, err := session(c)
	if err != nil {
		return err
	}
	if c.Args().Len() == 1 {
		return volio.SaveConfig(s.Config, c.Args().First())
	}
	out, err := yaml.Marshal(s.Config)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(out)
	return err
}
