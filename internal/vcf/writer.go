package vcf

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/inodb/vcfshark/internal/engine"
)

// Writer re-emits VCF text from decompressed records.
type Writer struct {
	w       *bufio.Writer
	header  string
	samples []string
	keys    []engine.KeyDesc
	ploidy  int

	filterKey  int
	infoKeys   []int
	formatKeys []int // GT first, then declaration order
}

// NewWriter builds a writer for the given schema.
func NewWriter(w io.Writer, header string, samples []string, keys []engine.KeyDesc, ploidy int) *Writer {
	vw := &Writer{
		w:         bufio.NewWriter(w),
		header:    header,
		samples:   samples,
		keys:      keys,
		ploidy:    ploidy,
		filterKey: -1,
	}
	for i, k := range keys {
		switch k.Kind {
		case engine.KindFilter:
			vw.filterKey = i
		case engine.KindInfo:
			vw.infoKeys = append(vw.infoKeys, i)
		case engine.KindFormat:
			if k.Type == engine.KeyGT {
				vw.formatKeys = append([]int{i}, vw.formatKeys...)
			} else {
				vw.formatKeys = append(vw.formatKeys, i)
			}
		}
	}
	return vw
}

// WriteHeader emits the ## lines and the #CHROM line.
func (vw *Writer) WriteHeader() error {
	if vw.header != "" {
		if _, err := vw.w.WriteString(vw.header); err != nil {
			return err
		}
		if err := vw.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	line := "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO"
	if len(vw.samples) > 0 {
		line += "\tFORMAT\t" + strings.Join(vw.samples, "\t")
	}
	_, err := vw.w.WriteString(line + "\n")
	return err
}

// WriteRecord emits one variant line.
func (vw *Writer) WriteRecord(rec *Record) error {
	var sb strings.Builder
	sb.WriteString(rec.Desc.Chrom)
	sb.WriteByte('\t')
	sb.WriteString(strconv.FormatInt(rec.Desc.Pos, 10))
	sb.WriteByte('\t')
	sb.WriteString(rec.Desc.ID)
	sb.WriteByte('\t')
	sb.WriteString(rec.Desc.Ref)
	sb.WriteByte('\t')
	sb.WriteString(rec.Desc.Alt)
	sb.WriteByte('\t')
	sb.WriteString(rec.Desc.Qual)
	sb.WriteByte('\t')

	filter := "."
	if vw.filterKey >= 0 && rec.Fields[vw.filterKey].Present {
		filter = string(rec.Fields[vw.filterKey].Text)
	}
	sb.WriteString(filter)
	sb.WriteByte('\t')

	sb.WriteString(vw.renderInfo(rec.Fields))

	if len(vw.samples) > 0 {
		vw.renderSamples(rec.Fields, &sb)
	}

	sb.WriteByte('\n')
	_, err := vw.w.WriteString(sb.String())
	return err
}

func (vw *Writer) renderInfo(fields []engine.FieldValue) string {
	var parts []string
	for _, i := range vw.infoKeys {
		v := fields[i]
		if !v.Present {
			continue
		}
		k := vw.keys[i]
		switch k.Type {
		case engine.KeyFlag:
			if v.Flag {
				parts = append(parts, k.Name)
			}
		case engine.KeyInt:
			parts = append(parts, k.Name+"="+renderInts(v.Ints))
		case engine.KeyReal:
			parts = append(parts, k.Name+"="+renderReals(v.Reals))
		default:
			parts = append(parts, k.Name+"="+string(v.Text))
		}
	}
	if len(parts) == 0 {
		return "."
	}
	return strings.Join(parts, ";")
}

func (vw *Writer) renderSamples(fields []engine.FieldValue, sb *strings.Builder) {
	var names []string
	var present []int
	for _, i := range vw.formatKeys {
		if fields[i].Present {
			names = append(names, vw.keys[i].Name)
			present = append(present, i)
		}
	}
	sb.WriteByte('\t')
	if len(names) == 0 {
		sb.WriteByte('.')
		for range vw.samples {
			sb.WriteString("\t.")
		}
		return
	}
	sb.WriteString(strings.Join(names, ":"))

	textCols := make(map[int][]string)
	for _, i := range present {
		if vw.keys[i].Type == engine.KeyText {
			textCols[i] = strings.Split(string(fields[i].Text), "\t")
		}
	}

	for s := range vw.samples {
		sb.WriteByte('\t')
		for fi, i := range present {
			if fi > 0 {
				sb.WriteByte(':')
			}
			k := vw.keys[i]
			v := fields[i]
			switch k.Type {
			case engine.KeyGT:
				formatGT(v.GT[s*vw.ploidy:(s+1)*vw.ploidy], sb)
			case engine.KeyInt:
				if s < len(v.Ints) && v.Ints[s] != engine.MissingInt {
					sb.WriteString(strconv.FormatInt(int64(v.Ints[s]), 10))
				} else {
					sb.WriteByte('.')
				}
			case engine.KeyReal:
				if s < len(v.Reals) && !engine.IsMissingReal(v.Reals[s]) {
					sb.WriteString(renderReal(v.Reals[s]))
				} else {
					sb.WriteByte('.')
				}
			default:
				if cols := textCols[i]; s < len(cols) {
					sb.WriteString(cols[s])
				} else {
					sb.WriteByte('.')
				}
			}
		}
	}
}

func renderInts(vals []int32) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if v == engine.MissingInt {
			parts[i] = "."
		} else {
			parts[i] = strconv.FormatInt(int64(v), 10)
		}
	}
	return strings.Join(parts, ",")
}

func renderReals(vals []float32) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		if engine.IsMissingReal(v) {
			parts[i] = "."
		} else {
			parts[i] = renderReal(v)
		}
	}
	return strings.Join(parts, ",")
}

func renderReal(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

// Flush writes buffered output.
func (vw *Writer) Flush() error {
	return vw.w.Flush()
}
