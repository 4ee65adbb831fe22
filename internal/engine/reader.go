package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/inodb/vcfshark/internal/archive"
	"github.com/inodb/vcfshark/internal/entropy"
	"github.com/inodb/vcfshark/internal/fieldcodec"
	"github.com/inodb/vcfshark/internal/graphopt"
	"github.com/inodb/vcfshark/internal/textpp"
)

// fieldReader pulls one key's records out of its (size, data) stream
// pair, loading the next part pair when the current one is exhausted.
type fieldReader struct {
	t          KeyType
	sizeStream int
	dataStream int
	preset     entropy.Preset
	tp         *textpp.Codec

	partIdx   int
	partCount int
	sizes     []uint32
	sIdx      int
	data      []byte
	dOff      int
}

func (f *fieldReader) nextRecord(ar *archive.Reader) (uint32, []byte, error) {
	for f.sIdx >= len(f.sizes) {
		if err := f.loadPart(ar); err != nil {
			return 0, nil, err
		}
	}
	s := f.sizes[f.sIdx]
	f.sIdx++
	n, err := fieldDataLen(f.t, s, f.data[f.dOff:])
	if err != nil {
		return 0, nil, err
	}
	if f.dOff+n > len(f.data) {
		return 0, nil, fmt.Errorf("%w: record overruns part", archive.ErrCorrupt)
	}
	rec := f.data[f.dOff : f.dOff+n]
	f.dOff += n
	return s, rec, nil
}

func (f *fieldReader) loadPart(ar *archive.Reader) error {
	if f.partIdx >= f.partCount {
		return fmt.Errorf("%w: field stream exhausted", archive.ErrCorrupt)
	}
	sizeBlob, err := ar.GetPart(f.sizeStream, f.partIdx)
	if err != nil {
		return err
	}
	sizes, err := fieldcodec.DecompressSizes(entropy.PresetSize, sizeBlob)
	if err != nil {
		return err
	}
	dataBlob, err := ar.GetPart(f.dataStream, f.partIdx)
	if err != nil {
		return err
	}
	var data []byte
	if f.t == KeyText {
		data, err = fieldcodec.DecompressText(f.tp, f.preset, dataBlob)
	} else {
		data, err = fieldcodec.DecompressData(f.preset, dataBlob)
	}
	if err != nil {
		return err
	}
	f.partIdx++
	f.sizes = sizes
	f.sIdx = 0
	f.data = data
	f.dOff = 0
	return nil
}

// dbReader is the fieldReader analogue for a database column.
type dbReader struct {
	col        int
	sizeStream int
	dataStream int
	chrom      *fieldcodec.ChromDict

	partIdx   int
	partCount int
	sizes     []uint32
	sIdx      int
	data      []byte
	dOff      int
}

func (d *dbReader) nextRecord(ar *archive.Reader) ([]byte, error) {
	for d.sIdx >= len(d.sizes) {
		if err := d.loadPart(ar); err != nil {
			return nil, err
		}
	}
	s := int(d.sizes[d.sIdx])
	d.sIdx++
	if d.dOff+s > len(d.data) {
		return nil, fmt.Errorf("%w: database record overruns part", archive.ErrCorrupt)
	}
	rec := d.data[d.dOff : d.dOff+s]
	d.dOff += s
	return rec, nil
}

func (d *dbReader) loadPart(ar *archive.Reader) error {
	if d.partIdx >= d.partCount {
		return fmt.Errorf("%w: database stream exhausted", archive.ErrCorrupt)
	}
	preset := dbPresets[d.col]
	sizeBlob, err := ar.GetPart(d.sizeStream, d.partIdx)
	if err != nil {
		return err
	}
	sizes, err := fieldcodec.DecompressSizes(preset, sizeBlob)
	if err != nil {
		return err
	}
	dataBlob, err := ar.GetPart(d.dataStream, d.partIdx)
	if err != nil {
		return err
	}
	var data []byte
	if d.col == dbChrom {
		data, err = d.chrom.Decompress(dataBlob)
	} else {
		data, err = fieldcodec.DecompressData(preset, dataBlob)
	}
	if err != nil {
		return err
	}
	d.partIdx++
	d.sizes = sizes
	d.sIdx = 0
	d.data = data
	d.dOff = 0
	return nil
}

// gtReader walks the genotype stream part by part, keeping the coder's
// model state across parts.
type gtReader struct {
	coder      *fieldcodec.GTCoder
	dataStream int
	partIdx    int
	partCount  int

	data   []byte
	width  int
	rows   int
	rowIdx int
}

func (g *gtReader) nextRow(ar *archive.Reader) ([]byte, error) {
	for g.rowIdx >= g.rows {
		if g.partIdx >= g.partCount {
			return nil, fmt.Errorf("%w: genotype stream exhausted", archive.ErrCorrupt)
		}
		blob, err := ar.GetPart(g.dataStream, g.partIdx)
		if err != nil {
			return nil, err
		}
		data, width, rows, err := g.coder.DecompressPart(blob)
		if err != nil {
			return nil, err
		}
		g.partIdx++
		g.data = data
		g.width = width
		g.rows = rows
		g.rowIdx = 0
	}
	row := g.data[g.rowIdx*g.width : (g.rowIdx+1)*g.width]
	g.rowIdx++
	return row, nil
}

// mappedField reconstructs a key that the optimiser replaced with a
// function descriptor.
type mappedField struct {
	src   int
	table map[string][]byte // framed source record -> framed dest record
}

// Reader is the decompression side of the engine.
type Reader struct {
	log *zap.Logger
	ar  *archive.Reader

	info    fileInfo
	neglect uint32
	graph   graphopt.Graph

	fieldRds []*fieldReader
	mapped   []*mappedField
	isMapSrc []bool
	dbRds    [dbColumns]*dbReader
	gtRd     *gtReader

	variant uint64
	prevPos int64
	framed  [][]byte
}

// OpenForReading opens an archive and loads its descriptions and
// function graphs.
func OpenForReading(path string) (*Reader, error) {
	ar, err := archive.OpenReader(path)
	if err != nil {
		return nil, err
	}
	r := &Reader{log: zap.NewNop(), ar: ar}
	if err := r.loadDescriptions(); err != nil {
		ar.Close()
		return nil, err
	}
	if err := r.setupReaders(); err != nil {
		ar.Close()
		return nil, err
	}
	return r, nil
}

// SetLogger sets the logger.
func (r *Reader) SetLogger(l *zap.Logger) { r.log = l }

func (r *Reader) loadDescriptions() error {
	params, err := r.streamPartRaw(streamParams)
	if err != nil {
		return err
	}
	if len(params) != 5 || !bytes.Equal(params[:4], []byte{'G', 'T', 'S', '1'}) {
		return fmt.Errorf("%w: bad parameter stream", archive.ErrCorrupt)
	}
	r.neglect = uint32(params[4])

	if err := r.readMetaStream(streamKeys, &r.info); err != nil {
		return err
	}
	for i := range r.info.Keys {
		if r.info.Keys[i].ID != i {
			return fmt.Errorf("%w: key ids not dense", archive.ErrCorrupt)
		}
	}

	if err := r.readMetaStream(streamGraphSizeNodes, &r.graph.SizeReplaced); err != nil {
		return err
	}
	if err := r.readMetaStream(streamGraphSizeEdges, &r.graph.SizeEdges); err != nil {
		return err
	}
	if err := r.readMetaStream(streamGraphDataNodes, &r.graph.DataReplaced); err != nil {
		return err
	}
	if err := r.readMetaStream(streamGraphDataEdges, &r.graph.DataEdges); err != nil {
		return err
	}
	if len(r.info.Keys) > 0 && !r.graph.Validate() {
		return fmt.Errorf("%w: function graph is not a DAG", archive.ErrCorrupt)
	}
	return nil
}

func (r *Reader) setupReaders() error {
	n := len(r.info.Keys)
	r.fieldRds = make([]*fieldReader, n)
	r.mapped = make([]*mappedField, n)
	r.isMapSrc = make([]bool, n)
	r.framed = make([][]byte, n)

	for _, e := range r.graph.DataEdges {
		if e.Equal {
			continue
		}
		blob, err := r.streamPartRaw(funcStreamData(e.Dst))
		if err != nil {
			return err
		}
		desc, err := entropy.Decompress(entropy.PresetMeta, blob)
		if err != nil {
			return err
		}
		var full graphopt.DataEdge
		if err := msgpack.Unmarshal(desc, &full); err != nil {
			return fmt.Errorf("%w: bad function descriptor for key %d", archive.ErrCorrupt, e.Dst)
		}
		table := make(map[string][]byte, len(full.Pairs))
		for _, p := range full.Pairs {
			table[string(p.Src)] = p.Dst
		}
		r.mapped[e.Dst] = &mappedField{src: e.Src, table: table}
		r.isMapSrc[e.Src] = true
	}

	for i, k := range r.info.Keys {
		if k.Type == KeyGT {
			r.gtRd = &gtReader{coder: fieldcodec.NewGTCoder()}
			r.gtRd.dataStream = r.ar.StreamID(keyStreamData(i))
			if r.gtRd.dataStream >= 0 {
				cnt, err := r.ar.PartCount(r.gtRd.dataStream)
				if err != nil {
					return err
				}
				r.gtRd.partCount = cnt
			}
			continue
		}
		if r.mapped[i] != nil {
			continue
		}
		f := &fieldReader{t: k.Type}
		switch k.Type {
		case KeyFlag:
			f.preset = entropy.PresetFlag
		case KeyInt:
			f.preset = entropy.PresetInt
		case KeyReal:
			f.preset = entropy.PresetReal
		case KeyText:
			f.preset = entropy.PresetText
			f.tp = textpp.New()
		}
		f.sizeStream = r.ar.StreamID(keyStreamSize(i))
		f.dataStream = r.ar.StreamID(keyStreamData(i))
		if f.sizeStream < 0 || f.dataStream < 0 {
			return fmt.Errorf("%w: missing streams for key %d", archive.ErrCorrupt, i)
		}
		cnt, err := r.ar.PartCount(f.sizeStream)
		if err != nil {
			return err
		}
		f.partCount = cnt
		r.fieldRds[i] = f
	}

	chromDict := fieldcodec.NewChromDict()
	for c := 0; c < dbColumns; c++ {
		d := &dbReader{col: c}
		if c == dbChrom {
			d.chrom = chromDict
		}
		d.sizeStream = r.ar.StreamID(dbStreamSize[c])
		d.dataStream = r.ar.StreamID(dbStreamData[c])
		if d.sizeStream < 0 || d.dataStream < 0 {
			return fmt.Errorf("%w: missing database streams", archive.ErrCorrupt)
		}
		cnt, err := r.ar.PartCount(d.sizeStream)
		if err != nil {
			return err
		}
		d.partCount = cnt
		r.dbRds[c] = d
	}
	return nil
}

func (r *Reader) streamPartRaw(name string) ([]byte, error) {
	id := r.ar.StreamID(name)
	if id < 0 {
		return nil, fmt.Errorf("%w: missing stream %q", archive.ErrCorrupt, name)
	}
	return r.ar.GetPart(id, 0)
}

func (r *Reader) readMetaStream(name string, v any) error {
	blob, err := r.streamPartRaw(name)
	if err != nil {
		return err
	}
	raw, err := entropy.Decompress(entropy.PresetMeta, blob)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: bad %s stream", archive.ErrCorrupt, name)
	}
	return nil
}

// GetMeta returns the metadata blob.
func (r *Reader) GetMeta() (string, error) {
	blob, err := r.streamPartRaw(streamMeta)
	if err != nil {
		return "", err
	}
	raw, err := entropy.Decompress(entropy.PresetMeta, blob)
	return string(raw), err
}

// GetHeader returns the textual header.
func (r *Reader) GetHeader() (string, error) {
	blob, err := r.streamPartRaw(streamHeader)
	if err != nil {
		return "", err
	}
	raw, err := entropy.Decompress(entropy.PresetMeta, blob)
	return string(raw), err
}

// GetSamples returns the sample names.
func (r *Reader) GetSamples() ([]string, error) {
	var samples []string
	if err := r.readMetaStream(streamSamples, &samples); err != nil {
		return nil, err
	}
	return samples, nil
}

// GetKeys returns the declared key descriptors.
func (r *Reader) GetKeys() []KeyDesc { return r.info.Keys }

// VariantCount returns the number of variants in the archive.
func (r *Reader) VariantCount() uint64 { return r.info.Variants }

// SampleCount returns the number of samples.
func (r *Reader) SampleCount() int { return int(r.info.Samples) }

// Ploidy returns the per-sample haplotype count.
func (r *Reader) Ploidy() int { return int(r.info.Ploidy) }

// NeglectLimit returns the ingestion-time neglect limit.
func (r *Reader) NeglectLimit() uint32 { return r.neglect }

// Eof reports whether every variant has been delivered.
func (r *Reader) Eof() bool { return r.variant >= r.info.Variants }

// GetVariant reconstructs the next variant. Plain fields decode from
// their streams; function-replaced fields derive from their source's
// record for the same variant, which the depth-1 graph guarantees has
// already been read.
func (r *Reader) GetVariant() (VariantDesc, []FieldValue, error) {
	var desc VariantDesc
	if r.Eof() {
		return desc, nil, ErrEOF
	}

	rec, err := r.dbRds[dbChrom].nextRecord(r.ar)
	if err != nil {
		return desc, nil, err
	}
	desc.Chrom = string(rec)
	if rec, err = r.dbRds[dbPos].nextRecord(r.ar); err != nil {
		return desc, nil, err
	}
	delta, n := binary.Uvarint(rec)
	if n <= 0 {
		return desc, nil, fmt.Errorf("%w: bad position record", archive.ErrCorrupt)
	}
	desc.Pos = r.prevPos + unzigzag(delta)
	r.prevPos = desc.Pos
	if rec, err = r.dbRds[dbID].nextRecord(r.ar); err != nil {
		return desc, nil, err
	}
	desc.ID = string(rec)
	if rec, err = r.dbRds[dbRef].nextRecord(r.ar); err != nil {
		return desc, nil, err
	}
	desc.Ref = string(rec)
	if rec, err = r.dbRds[dbAlt].nextRecord(r.ar); err != nil {
		return desc, nil, err
	}
	desc.Alt = string(rec)
	if rec, err = r.dbRds[dbQual].nextRecord(r.ar); err != nil {
		return desc, nil, err
	}
	desc.Qual = string(rec)

	fields := make([]FieldValue, len(r.info.Keys))
	for i, k := range r.info.Keys {
		if k.Type == KeyGT || r.mapped[i] != nil {
			continue
		}
		s, recBytes, err := r.fieldRds[i].nextRecord(r.ar)
		if err != nil {
			return desc, nil, fmt.Errorf("key %d: %w", i, err)
		}
		if r.isMapSrc[i] {
			r.framed[i] = frameRecord(r.framed[i][:0], s, recBytes)
		}
		if fields[i], err = decodeField(k.Type, s, recBytes); err != nil {
			return desc, nil, fmt.Errorf("key %d: %w", i, err)
		}
	}

	if r.gtRd != nil {
		gtKey := r.info.GTKey
		width := int(r.info.Ploidy) * int(r.info.Samples)
		fields[gtKey].Present = true
		if width > 0 {
			row, err := r.gtRd.nextRow(r.ar)
			if err != nil {
				return desc, nil, fmt.Errorf("genotype: %w", err)
			}
			fields[gtKey].GT = append([]byte(nil), row...)
		}
	}

	for i := range r.info.Keys {
		m := r.mapped[i]
		if m == nil {
			continue
		}
		framedDst, ok := m.table[string(r.framed[m.src])]
		if !ok {
			return desc, nil, fmt.Errorf("%w: unmapped source record for key %d", archive.ErrCorrupt, i)
		}
		s, recBytes, err := unframeRecord(framedDst)
		if err != nil {
			return desc, nil, err
		}
		if fields[i], err = decodeField(r.info.Keys[i].Type, s, recBytes); err != nil {
			return desc, nil, fmt.Errorf("key %d: %w", i, err)
		}
	}

	r.variant++
	return desc, fields, nil
}

// Close releases the archive.
func (r *Reader) Close() error {
	return r.ar.Close()
}
