package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/inodb/vcfshark/internal/archive"
	"github.com/inodb/vcfshark/internal/engine"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive.vcfshark>",
		Short: "List an archive's streams and counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}
}

func runInspect(path string) error {
	r, err := engine.OpenForReading(path)
	if err != nil {
		return err
	}
	samples, err := r.GetSamples()
	if err != nil {
		r.Close()
		return err
	}
	fmt.Printf("variants: %d\nsamples:  %d\nploidy:   %d\nkeys:     %d\n\n",
		r.VariantCount(), len(samples), r.Ploidy(), len(r.GetKeys()))
	for _, k := range r.GetKeys() {
		fmt.Printf("  key %3d  %-12s %-8s kind=%d neglected=%v\n",
			k.ID, k.Name, k.Type, k.Kind, k.Neglected)
	}
	r.Close()

	ar, err := archive.OpenReader(path)
	if err != nil {
		return err
	}
	defer ar.Close()

	fmt.Println()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STREAM\tPARTS\tLINK")
	for id, name := range ar.Streams() {
		target := ar.Target(id)
		parts := "-"
		if target == "" {
			if n, err := ar.PartCount(id); err == nil {
				parts = fmt.Sprintf("%d", n)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, parts, target)
	}
	return tw.Flush()
}
