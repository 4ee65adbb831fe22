package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/inodb/vcfshark/internal/engine"
	"github.com/inodb/vcfshark/internal/vcf"
)

func newDecompressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decompress <input.vcfshark> <output.vcf>",
		Short: "Decompress a vcfshark archive back to VCF",
		Long:  "Decompress a vcfshark archive back to VCF. Use \"-\" as the output to write to stdout.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecompress(args[0], args[1])
		},
	}
}

func runDecompress(input, output string) error {
	r, err := engine.OpenForReading(input)
	if err != nil {
		return err
	}
	defer r.Close()
	r.SetLogger(logger)

	out := os.Stdout
	if output != "-" {
		out, err = os.Create(output)
		if err != nil {
			return err
		}
		defer out.Close()
	}

	header, err := r.GetHeader()
	if err != nil {
		return err
	}
	samples, err := r.GetSamples()
	if err != nil {
		return err
	}

	vw := vcf.NewWriter(out, header, samples, r.GetKeys(), r.Ploidy())
	if err := vw.WriteHeader(); err != nil {
		return err
	}

	count := 0
	for !r.Eof() {
		desc, fields, err := r.GetVariant()
		if err != nil {
			return err
		}
		if err := vw.WriteRecord(&vcf.Record{Desc: desc, Fields: fields}); err != nil {
			return err
		}
		count++
	}
	if err := vw.Flush(); err != nil {
		return err
	}
	logger.Info("decompressed",
		zap.String("input", input),
		zap.String("output", output),
		zap.Int("variants", count))
	return nil
}
