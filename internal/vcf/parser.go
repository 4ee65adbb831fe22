package vcf

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/inodb/vcfshark/internal/engine"
)

// ParseError reports a malformed input line.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("vcf line %d: %s", e.Line, e.Message)
}

// Parser reads records from a VCF file.
type Parser struct {
	reader        *bufio.Reader
	file          *os.File
	gzipReader    *gzip.Reader
	lineNumber    int
	header        []string
	sampleNames   []string
	keys          []engine.KeyDesc
	infoIdx       map[string]int
	formatIdx     map[string]int
	gtKey         int
	ploidy        int
	extraVariants bool
}

// NewParser creates a parser for the given file. Plain and gzipped VCF
// are both accepted; "-" reads stdin.
func NewParser(path string, ploidy int, extraVariants bool) (*Parser, error) {
	if path == "-" {
		return NewParserFromReader(os.Stdin, ploidy, extraVariants)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vcf file: %w", err)
	}

	p := &Parser{file: file, ploidy: ploidy, extraVariants: extraVariants}

	buf := make([]byte, 2)
	if _, err = file.Read(buf); err != nil {
		file.Close()
		return nil, fmt.Errorf("read vcf header: %w", err)
	}
	if _, err = file.Seek(0, 0); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek vcf file: %w", err)
	}

	// gzip magic (0x1f, 0x8b)
	if buf[0] == 0x1f && buf[1] == 0x8b {
		p.gzipReader, err = gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		p.reader = bufio.NewReader(p.gzipReader)
	} else {
		p.reader = bufio.NewReader(file)
	}

	if err := p.parseHeader(); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// NewParserFromReader creates a parser from an io.Reader.
func NewParserFromReader(r io.Reader, ploidy int, extraVariants bool) (*Parser, error) {
	p := &Parser{
		reader:        bufio.NewReader(r),
		ploidy:        ploidy,
		extraVariants: extraVariants,
	}
	if err := p.parseHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) parseHeader() error {
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("read header: %w", err)
		}
		p.lineNumber++
		line = strings.TrimRight(line, "\r\n")

		if strings.HasPrefix(line, "##") {
			p.header = append(p.header, line)
			continue
		}
		if strings.HasPrefix(line, "#CHROM") {
			fields := strings.Split(line, "\t")
			if len(fields) > 9 {
				p.sampleNames = fields[9:]
			}
			p.declareKeys()
			return nil
		}
		return &ParseError{Line: p.lineNumber, Message: "expected #CHROM header line"}
	}
	return &ParseError{Line: p.lineNumber, Message: "no #CHROM header line found"}
}

func (p *Parser) declareKeys() {
	p.keys = DeclareKeys(p.header)
	p.infoIdx = make(map[string]int)
	p.formatIdx = make(map[string]int)
	p.gtKey = -1
	for i, k := range p.keys {
		switch k.Kind {
		case engine.KindInfo:
			p.infoIdx[k.Name] = i
		case engine.KindFormat:
			p.formatIdx[k.Name] = i
			if k.Type == engine.KeyGT {
				p.gtKey = i
			}
		}
	}
}

// Keys returns the declared key schema.
func (p *Parser) Keys() []engine.KeyDesc { return p.keys }

// Header returns the ## header lines joined with newlines.
func (p *Parser) Header() string { return strings.Join(p.header, "\n") }

// SampleNames returns sample names from the #CHROM line.
func (p *Parser) SampleNames() []string { return p.sampleNames }

// LineNumber returns the current line number.
func (p *Parser) LineNumber() int { return p.lineNumber }

// Next reads the next record. Returns nil, nil at end of input.
func (p *Parser) Next() (*Record, error) {
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil, nil
			}
			return nil, fmt.Errorf("read variant line: %w", err)
		}
		p.lineNumber++
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		return p.parseLine(line)
	}
}

func (p *Parser) parseLine(line string) (*Record, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 8 {
		return nil, &ParseError{
			Line:    p.lineNumber,
			Message: fmt.Sprintf("expected at least 8 columns, found %d", len(cols)),
		}
	}

	pos, err := strconv.ParseInt(cols[1], 10, 64)
	if err != nil {
		return nil, &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("invalid position: %s", cols[1])}
	}

	rec := &Record{
		Desc: engine.VariantDesc{
			Chrom: cols[0],
			Pos:   pos,
			ID:    cols[2],
			Ref:   cols[3],
			Alt:   cols[4],
			Qual:  cols[5],
		},
		Fields: make([]engine.FieldValue, len(p.keys)),
	}

	rec.Fields[0] = engine.FieldValue{Present: true, Text: []byte(cols[6])}

	if err := p.parseInfo(cols[7], rec.Fields); err != nil {
		return nil, err
	}

	if p.gtKey >= 0 && len(p.sampleNames) > 0 {
		rec.Fields[p.gtKey] = engine.FieldValue{
			Present: true,
			GT:      make([]byte, p.ploidy*len(p.sampleNames)),
		}
		for i := range rec.Fields[p.gtKey].GT {
			rec.Fields[p.gtKey].GT[i] = gtPad
		}
	}

	if len(cols) > 9 {
		if err := p.parseSamples(cols[8], cols[9:], rec.Fields); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (p *Parser) parseInfo(info string, fields []engine.FieldValue) error {
	if info == "." {
		return nil
	}
	for _, kv := range strings.Split(info, ";") {
		name, value, hasValue := strings.Cut(kv, "=")
		idx, ok := p.infoIdx[name]
		if !ok {
			if p.extraVariants {
				continue
			}
			return &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("undeclared INFO field %q", name)}
		}
		k := p.keys[idx]
		switch k.Type {
		case engine.KeyFlag:
			fields[idx] = engine.FieldValue{Present: true, Flag: true}
		case engine.KeyInt:
			if !hasValue {
				return &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("INFO %s: missing value", name)}
			}
			v := engine.FieldValue{Present: true}
			for _, tok := range strings.Split(value, ",") {
				if tok == "." {
					v.Ints = append(v.Ints, engine.MissingInt)
					continue
				}
				x, err := strconv.ParseInt(tok, 10, 32)
				if err != nil {
					return &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("INFO %s: bad integer %q", name, tok)}
				}
				v.Ints = append(v.Ints, int32(x))
			}
			fields[idx] = v
		case engine.KeyReal:
			if !hasValue {
				return &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("INFO %s: missing value", name)}
			}
			v := engine.FieldValue{Present: true}
			for _, tok := range strings.Split(value, ",") {
				if tok == "." {
					v.Reals = append(v.Reals, engine.MissingReal)
					continue
				}
				x, err := strconv.ParseFloat(tok, 32)
				if err != nil {
					return &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("INFO %s: bad float %q", name, tok)}
				}
				v.Reals = append(v.Reals, float32(x))
			}
			fields[idx] = v
		default:
			v := engine.FieldValue{Present: true}
			if hasValue {
				v.Text = []byte(value)
			}
			fields[idx] = v
		}
	}
	return nil
}

func (p *Parser) parseSamples(format string, samples []string, fields []engine.FieldValue) error {
	if format == "." || format == "" {
		return nil
	}
	names := strings.Split(format, ":")
	split := make([][]string, len(samples))
	for s, col := range samples {
		split[s] = strings.Split(col, ":")
	}

	for fi, name := range names {
		idx, ok := p.formatIdx[name]
		if !ok {
			if p.extraVariants {
				continue
			}
			return &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("undeclared FORMAT field %q", name)}
		}
		k := p.keys[idx]

		if k.Type == engine.KeyGT {
			row := fields[idx].GT
			for s := range samples {
				val := "."
				if fi < len(split[s]) {
					val = split[s][fi]
				}
				if err := parseGT(val, row[s*p.ploidy:(s+1)*p.ploidy]); err != nil {
					return &ParseError{Line: p.lineNumber, Message: err.Error()}
				}
			}
			continue
		}

		v := engine.FieldValue{Present: true}
		switch k.Type {
		case engine.KeyInt:
			for s := range samples {
				val := "."
				if fi < len(split[s]) {
					val = split[s][fi]
				}
				if val == "." {
					v.Ints = append(v.Ints, engine.MissingInt)
					continue
				}
				x, err := strconv.ParseInt(val, 10, 32)
				if err != nil {
					return &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("FORMAT %s: bad integer %q", name, val)}
				}
				v.Ints = append(v.Ints, int32(x))
			}
		case engine.KeyReal:
			for s := range samples {
				val := "."
				if fi < len(split[s]) {
					val = split[s][fi]
				}
				if val == "." {
					v.Reals = append(v.Reals, engine.MissingReal)
					continue
				}
				x, err := strconv.ParseFloat(val, 32)
				if err != nil {
					return &ParseError{Line: p.lineNumber, Message: fmt.Sprintf("FORMAT %s: bad float %q", name, val)}
				}
				v.Reals = append(v.Reals, float32(x))
			}
		default:
			parts := make([]string, len(samples))
			for s := range samples {
				parts[s] = "."
				if fi < len(split[s]) {
					parts[s] = split[s][fi]
				}
			}
			v.Text = []byte(strings.Join(parts, "\t"))
		}
		fields[idx] = v
	}
	return nil
}

// Close closes the parser and underlying file.
func (p *Parser) Close() error {
	if p.gzipReader != nil {
		p.gzipReader.Close()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}
