// Package vcf parses and emits VCF text files for the compression
// engine: header key declarations, the six fixed columns, INFO and
// FORMAT fields and per-sample genotype rows.
package vcf

import (
	"fmt"
	"strings"

	"github.com/inodb/vcfshark/internal/engine"
)

// Record is one parsed variant: the fixed columns plus one value per
// declared key.
type Record struct {
	Desc   engine.VariantDesc
	Fields []engine.FieldValue
}

// Genotype slot coding, following the BCF convention. Each haplotype
// slot is a byte:
//
//	(a+1)<<1 | p   allele index a (missing = -1, so "." is 0 or 1),
//	               phase bit p
//	0x80           padding for samples below the nominal ploidy
//
// The phase bit of slot j records whether the separator before allele j
// was '|'; the first allele of a sample carries no separator and stays
// unphased.
const gtPad = 0x80

// maxAllele keeps allele slots clear of the padding value.
const maxAllele = 62

func encodeAllele(allele int, phased bool) (byte, error) {
	if allele > maxAllele {
		return 0, fmt.Errorf("allele index %d exceeds %d", allele, maxAllele)
	}
	v := byte(allele+1) << 1
	if phased {
		v |= 1
	}
	return v, nil
}

// parseGT fills ploidy slots from a genotype string like "0|1".
func parseGT(gt string, slots []byte) error {
	for i := range slots {
		slots[i] = gtPad
	}
	slot := 0
	phased := false
	for len(gt) > 0 {
		sep := strings.IndexAny(gt, "|/")
		tok := gt
		rest := ""
		restPhased := false
		if sep >= 0 {
			tok = gt[:sep]
			rest = gt[sep+1:]
			restPhased = gt[sep] == '|'
		}
		if slot >= len(slots) {
			return fmt.Errorf("genotype %q exceeds ploidy %d", gt, len(slots))
		}
		allele := -1
		if tok != "." {
			allele = 0
			for _, c := range tok {
				if c < '0' || c > '9' {
					return fmt.Errorf("bad allele %q", tok)
				}
				allele = allele*10 + int(c-'0')
			}
		}
		v, err := encodeAllele(allele, phased)
		if err != nil {
			return err
		}
		slots[slot] = v
		slot++
		phased = restPhased
		if sep < 0 {
			break
		}
		gt = rest
	}
	return nil
}

// formatGT renders ploidy slots back to a genotype string.
func formatGT(slots []byte, sb *strings.Builder) {
	wrote := false
	for _, s := range slots {
		if s == gtPad {
			continue
		}
		if wrote {
			if s&1 == 1 {
				sb.WriteByte('|')
			} else {
				sb.WriteByte('/')
			}
		}
		allele := int(s>>1) - 1
		if allele < 0 {
			sb.WriteByte('.')
		} else {
			fmt.Fprintf(sb, "%d", allele)
		}
		wrote = true
	}
	if !wrote {
		sb.WriteByte('.')
	}
}
