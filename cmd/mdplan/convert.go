package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/mdplan/internal/convert"
)

var (
	convertOut       string
	convertPdftotext bool
)

var convertCmd = &cobra.Command{
	Use:   "convert <file>",
	Short: "Convert a document (pdf, docx, html, csv, txt) to markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := convert.ForFile(args[0], convert.Options{PDFFallbackPdftotext: convertPdftotext})
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		md, err := c.Convert(f, args[0])
		if err != nil {
			return fmt.Errorf("convert %s: %w", args[0], err)
		}
		if convertOut == "" || convertOut == "-" {
			_, err = fmt.Fprint(cmd.OutOrStdout(), md)
			return err
		}
		return os.WriteFile(convertOut, []byte(md), 0o644)
	},
}

func init() {
	convertCmd.Flags().StringVarP(&convertOut, "out", "o", "", "output file (default: stdout)")
	convertCmd.Flags().BoolVar(&convertPdftotext, "pdftotext", true, "fall back to pdftotext for PDFs")
}
