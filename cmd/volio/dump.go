package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
)

// DumpFile hex dumps --length bytes of a file starting at --offset. It reads
// the file as stored; compressed volumes show their gzip stream.
func DumpFile(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("dump: expected one file")
	}
	name := c.Args().First()
	offset, length := c.Int64("offset"), c.Int("length")
	out := c.App.Writer

	//nolint:gosec // G304: file named on the command line
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	size := fi.Size()
	if offset < 0 || offset >= size {
		return fmt.Errorf("dump: offset %d outside file of %d bytes", offset, size)
	}
	if length < 1 {
		return fmt.Errorf("dump: invalid length %d", length)
	}
	n := int64(length)
	if remaining := size - offset; n > remaining {
		fmt.Fprintf(c.App.ErrWriter, "requested %d bytes, only %d available\n", length, remaining)
		n = remaining
	}

	buf := make([]byte, n)
	got, err := f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return err
	}
	fmt.Fprintf(out, "%d bytes at 0x%x of %s (%s):\n", got, offset, name, humanize.Bytes(uint64(size)))
	hexDump(out, buf[:got], offset)
	return nil
}

// hexDump writes 16 bytes per line: address, hex columns split in two
// groups of eight, then printable ASCII.
func hexDump(w io.Writer, buf []byte, base int64) {
	for i := 0; i < len(buf); i += 16 {
		chunk := buf[i:min(i+16, len(buf))]
		fmt.Fprintf(w, "%08x: ", base+int64(i))
		for j := 0; j < 16; j++ {
			if j < len(chunk) {
				fmt.Fprintf(w, "%02x ", chunk[j])
			} else {
				fmt.Fprint(w, "   ")
			}
			if j == 7 {
				fmt.Fprint(w, " ")
			}
		}
		fmt.Fprint(w, " |")
		for _, b := range chunk {
			if b >= 32 && b <= 126 {
				fmt.Fprintf(w, "%c", b)
			} else {
				fmt.Fprint(w, ".")
			}
		}
		fmt.Fprintln(w, "|")
	}
}
