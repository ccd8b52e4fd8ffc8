// Command wsiinfo dumps a slide's IFD/tag structure for manual inspection,
// the diagnostic counterpart to the pseudonymization pipeline.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/slidevault/wsipseudo/internal/tiffrw"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func run() error {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [options] file.svs\nOptions:\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		flag.Usage()
		return fmt.Errorf("exactly one input file required")
	}

	tf, err := tiffrw.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer tf.Close()

	labelIFD, labelErr := tf.FindLabelIFD()

	for i, ifd := range tf.IFDs() {
		marker := ""
		if labelErr == nil && ifd == labelIFD {
			marker = " (label)"
		}
		fmt.Printf("IFD %d%s\n", i, marker)

		if desc, err := tf.ImageDescription(ifd); err == nil {
			fmt.Printf("  ImageDescription: %q\n", desc)
		}
		if comp, err := tf.Compression(ifd); err == nil {
			fmt.Printf("  Compression: %d\n", comp)
		}
		if rps, err := tf.RowsPerStrip(ifd); err == nil {
			fmt.Printf("  RowsPerStrip: %d\n", rps)
		}
		if offs, err := tf.StripOffsets(ifd); err == nil {
			fmt.Printf("  StripOffsets: %d strips\n", len(offs))
		}
		if counts, err := tf.StripByteCounts(ifd); err == nil {
			total := 0
			for _, c := range counts {
				total += int(c)
			}
			fmt.Printf("  StripByteCounts: %d strips, %d bytes total\n", len(counts), total)
		}
	}

	if labelErr != nil {
		fmt.Printf("label IFD: not found (%v)\n", labelErr)
	}
	return nil
}
