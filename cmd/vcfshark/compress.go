package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/inodb/vcfshark/internal/engine"
	"github.com/inodb/vcfshark/internal/vcf"
)

func newCompressCmd() *cobra.Command {
	var (
		threads           int
		ploidy            int
		neglectLimit      int
		extraVariants     bool
		storeSampleHeader bool
	)

	cmd := &cobra.Command{
		Use:   "compress <input.vcf[.gz]> <output.vcfshark>",
		Short: "Compress a VCF file into a vcfshark archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("threads") {
				threads = viper.GetInt("threads")
			}
			if !cmd.Flags().Changed("ploidy") {
				ploidy = viper.GetInt("ploidy")
			}
			if !cmd.Flags().Changed("neglect-limit") {
				neglectLimit = viper.GetInt("neglect_limit")
			}
			if !cmd.Flags().Changed("extra-variants") {
				extraVariants = viper.GetBool("extra_variants")
			}
			if !cmd.Flags().Changed("store-sample-header") {
				storeSampleHeader = viper.GetBool("store_sample_header")
			}
			return runCompress(args[0], args[1], threads, ploidy, neglectLimit, extraVariants, storeSampleHeader)
		},
	}

	cmd.Flags().IntVarP(&threads, "threads", "t", 8, "number of worker threads")
	cmd.Flags().IntVarP(&ploidy, "ploidy", "p", 2, "sample ploidy")
	cmd.Flags().IntVar(&neglectLimit, "neglect-limit", 10, "distinct-value threshold for uniform fields")
	cmd.Flags().BoolVar(&extraVariants, "extra-variants", false, "accept records with undeclared fields")
	cmd.Flags().BoolVar(&storeSampleHeader, "store-sample-header", false, "store the full textual header in the archive")
	return cmd
}

func runCompress(input, output string, threads, ploidy, neglectLimit int, extraVariants, storeSampleHeader bool) error {
	parser, err := vcf.NewParser(input, ploidy, extraVariants)
	if err != nil {
		return err
	}
	defer parser.Close()

	keys := parser.Keys()
	w, err := engine.OpenForWriting(output, len(keys))
	if err != nil {
		return err
	}
	w.SetLogger(logger)
	w.SetThreads(threads)
	w.SetPloidy(ploidy)
	w.SetNeglectLimit(uint32(neglectLimit))
	if storeSampleHeader {
		w.SetHeader(parser.Header())
	}
	w.SetMeta(fmt.Sprintf("vcfshark %s", version))
	w.AddSamples(parser.SampleNames())
	if err := w.SetKeys(keys); err != nil {
		return err
	}

	count := 0
	for {
		rec, err := parser.Next()
		if err != nil {
			return err
		}
		if rec == nil {
			break
		}
		if err := w.SetVariant(rec.Desc, rec.Fields); err != nil {
			return err
		}
		count++
		if count%100000 == 0 {
			logger.Debug("compressing", zap.Int("variants", count))
		}
	}

	if err := w.Close(); err != nil {
		return err
	}
	logger.Info("compressed",
		zap.String("input", input),
		zap.String("output", output),
		zap.Int("variants", count),
		zap.Int("samples", len(parser.SampleNames())),
		zap.Int("keys", len(keys)))
	return nil
}
