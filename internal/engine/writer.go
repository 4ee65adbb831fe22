package engine

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inodb/vcfshark/internal/archive"
	"github.com/inodb/vcfshark/internal/entropy"
	"github.com/inodb/vcfshark/internal/fieldcodec"
	"github.com/inodb/vcfshark/internal/graphopt"
	"github.com/inodb/vcfshark/internal/textpp"
)

type pkgKind uint8

const (
	pkgField pkgKind = iota
	pkgGT
	pkgDB
)

// pkg is the unit of work between the ingestion thread and the worker
// pool. It owns its buffers; the archive only ever sees (stream-id,
// part-id, bytes).
type pkg struct {
	kind       pkgKind
	keyID      int
	dbID       int
	sizeStream int
	dataStream int
	partID     int
	sizes      []uint32
	data       []byte
	slot       int
}

type outBuf struct {
	sizes      []uint32
	data       []byte
	partID     int
	sizeStream int
	dataStream int
	capBytes   int
	slot       int
}

// Writer is the compression side of the compressed-file engine.
type Writer struct {
	log  *zap.Logger
	ar   *archive.Writer
	path string

	keys    []KeyDesc
	gtKey   int
	ploidy  int
	threads int
	neglect uint32
	samples []string
	header  string
	meta    string

	variants uint64
	prevPos  int64
	gtWidth  int

	bufs   []outBuf
	dbBufs [dbColumns]outBuf

	trackers []*graphopt.Tracker

	queue    *registeringQueue[*pkg]
	inFlight []int
	pmu      sync.Mutex
	pcv      *sync.Cond

	textCodecs map[int]*textpp.Codec
	textGates  map[int]*partGate
	gtGate     *partGate
	chromGate  *partGate
	chromDict  *fieldcodec.ChromDict
	gtCoder    *fieldcodec.GTCoder

	grp     *errgroup.Group
	failed  atomic.Bool
	keysSet bool
	started bool
	closed  bool
}

// OpenForWriting starts a new archive for keyCount declared keys. The
// caller must SetKeys before the first SetVariant.
func OpenForWriting(path string, keyCount int) (*Writer, error) {
	w := &Writer{
		log:     zap.NewNop(),
		ar:      archive.NewWriter(path),
		path:    path,
		keys:    make([]KeyDesc, 0, keyCount),
		gtKey:   -1,
		ploidy:  defaultPloidy,
		threads: defaultThreads,
		neglect: defaultNeglect,
	}
	w.pcv = sync.NewCond(&w.pmu)

	w.ar.Register(streamParams)
	w.ar.Register(streamMeta)
	w.ar.Register(streamHeader)
	w.ar.Register(streamSamples)
	w.ar.Register(streamKeys)
	for i := 0; i < dbColumns; i++ {
		w.dbBufs[i] = outBuf{
			sizeStream: w.ar.Register(dbStreamSize[i]),
			dataStream: w.ar.Register(dbStreamData[i]),
			capBytes:   maxBufferDBSize,
			slot:       keyCount + i,
		}
	}
	return w, nil
}

// SetLogger sets the logger for progress messages.
func (w *Writer) SetLogger(l *zap.Logger) { w.log = l }

// SetMeta stores the free-form metadata blob.
func (w *Writer) SetMeta(meta string) { w.meta = meta }

// SetHeader stores the textual header.
func (w *Writer) SetHeader(header string) { w.header = header }

// AddSamples appends sample names.
func (w *Writer) AddSamples(samples []string) { w.samples = append(w.samples, samples...) }

// SetPloidy configures the per-sample haplotype count.
func (w *Writer) SetPloidy(p int) {
	if p > 0 {
		w.ploidy = p
	}
}

// SetThreads configures the worker pool size.
func (w *Writer) SetThreads(n int) {
	if n > 0 {
		w.threads = n
	}
}

// SetNeglectLimit configures the distinct-value threshold.
func (w *Writer) SetNeglectLimit(limit uint32) { w.neglect = limit }

// SetKeys declares the field schema. At most one key may be the
// genotype key.
func (w *Writer) SetKeys(keys []KeyDesc) error {
	if w.keysSet {
		return fmt.Errorf("%w: keys already set", ErrContract)
	}
	if cap(w.keys) != len(keys) {
		return fmt.Errorf("%w: declared %d keys, expected %d", ErrContract, len(keys), cap(w.keys))
	}
	w.keys = append(w.keys, keys...)
	for i := range w.keys {
		if w.keys[i].ID != i {
			return fmt.Errorf("%w: key ids must be dense, got %d at %d", ErrContract, w.keys[i].ID, i)
		}
		if w.keys[i].Type == KeyGT {
			if w.gtKey >= 0 {
				return fmt.Errorf("%w: multiple genotype keys", ErrContract)
			}
			w.gtKey = i
		}
	}

	w.bufs = make([]outBuf, len(w.keys))
	for i := range w.keys {
		capBytes := maxBufferSize
		if i == w.gtKey {
			capBytes = maxBufferGTSize
		}
		w.bufs[i] = outBuf{
			sizeStream: w.ar.Register(keyStreamSize(i)),
			dataStream: w.ar.Register(keyStreamData(i)),
			capBytes:   capBytes,
			slot:       i,
		}
	}
	w.keysSet = true
	return nil
}

// start spins up the worker pool. Called on the first SetVariant, after
// every configuration setter has run.
func (w *Writer) start() {
	w.inFlight = make([]int, len(w.keys)+dbColumns)
	w.trackers = make([]*graphopt.Tracker, len(w.keys))
	w.textCodecs = make(map[int]*textpp.Codec)
	w.textGates = make(map[int]*partGate)
	for i, k := range w.keys {
		if i == w.gtKey {
			continue
		}
		w.trackers[i] = graphopt.NewTracker(int(w.neglect))
		if k.Type == KeyText {
			w.textCodecs[i] = textpp.New()
			w.textGates[i] = newPartGate()
		}
	}
	w.gtGate = newPartGate()
	w.chromGate = newPartGate()
	w.chromDict = fieldcodec.NewChromDict()
	w.gtCoder = fieldcodec.NewGTCoder()
	w.gtWidth = w.ploidy * len(w.samples)

	w.queue = newRegisteringQueue[*pkg](1)
	w.grp = new(errgroup.Group)
	for i := 0; i < w.threads; i++ {
		w.grp.Go(w.worker)
	}
	w.started = true
	w.log.Debug("engine started",
		zap.Int("threads", w.threads),
		zap.Int("keys", len(w.keys)),
		zap.Int("gt_width", w.gtWidth))
}

// SetVariant appends one variant. Not reentrant: the ingestion side is
// single threaded by contract.
func (w *Writer) SetVariant(desc VariantDesc, fields []FieldValue) error {
	if w.closed {
		return ErrClosed
	}
	if !w.keysSet {
		return fmt.Errorf("%w: SetVariant before SetKeys", ErrContract)
	}
	if len(fields) != len(w.keys) {
		w.failed.Store(true)
		return fmt.Errorf("%w: %d field values for %d keys", ErrContract, len(fields), len(w.keys))
	}
	if !w.started {
		w.start()
	}
	if w.failed.Load() {
		return fmt.Errorf("engine: compression already failed")
	}

	w.appendDBText(dbChrom, desc.Chrom)
	w.appendDBPos(desc.Pos)
	w.appendDBText(dbID, desc.ID)
	w.appendDBText(dbRef, desc.Ref)
	w.appendDBText(dbAlt, desc.Alt)
	w.appendDBText(dbQual, desc.Qual)

	for i := range fields {
		if i == w.gtKey {
			if err := w.appendGT(fields[i].GT); err != nil {
				w.failed.Store(true)
				return err
			}
			continue
		}
		b := &w.bufs[i]
		start := len(b.data)
		sizeEntry, data := encodeField(w.keys[i].Type, fields[i], b.data)
		b.data = data
		b.sizes = append(b.sizes, sizeEntry)
		w.trackers[i].Add(sizeEntry, b.data[start:])
		if len(b.data) >= b.capBytes {
			if err := w.seal(b, pkgField, i, -1); err != nil {
				return err
			}
		}
	}

	for i := 0; i < dbColumns; i++ {
		if len(w.dbBufs[i].data) >= w.dbBufs[i].capBytes {
			if err := w.seal(&w.dbBufs[i], pkgDB, -1, i); err != nil {
				return err
			}
		}
	}

	w.variants++
	return nil
}

func (w *Writer) appendDBText(col int, s string) {
	b := &w.dbBufs[col]
	b.data = append(b.data, s...)
	b.sizes = append(b.sizes, uint32(len(s)))
}

func (w *Writer) appendDBPos(pos int64) {
	b := &w.dbBufs[dbPos]
	start := len(b.data)
	b.data = binary.AppendUvarint(b.data, zigzag(pos-w.prevPos))
	b.sizes = append(b.sizes, uint32(len(b.data)-start))
	w.prevPos = pos
}

func (w *Writer) appendGT(row []byte) error {
	if w.gtWidth == 0 {
		return nil
	}
	if len(row) != w.gtWidth {
		return fmt.Errorf("%w: genotype row of %d slots, want %d", ErrContract, len(row), w.gtWidth)
	}
	b := &w.bufs[w.gtKey]
	b.data = append(b.data, row...)
	b.sizes = append(b.sizes, uint32(w.gtWidth))
	if len(b.data) >= b.capBytes {
		return w.seal(b, pkgGT, w.gtKey, -1)
	}
	return nil
}

// seal moves the buffer contents into a package and hands it to the
// workers. The ingestion thread waits when too many packages for the
// same key are still in flight, which bounds peak memory.
func (w *Writer) seal(b *outBuf, kind pkgKind, keyID, dbID int) error {
	if len(b.sizes) == 0 {
		return nil
	}
	p := &pkg{
		kind:       kind,
		keyID:      keyID,
		dbID:       dbID,
		sizeStream: b.sizeStream,
		dataStream: b.dataStream,
		partID:     b.partID,
		sizes:      b.sizes,
		data:       b.data,
		slot:       b.slot,
	}
	b.partID++
	b.sizes = nil
	b.data = nil

	w.pmu.Lock()
	for w.inFlight[p.slot] >= maxCntPackages && !w.failed.Load() {
		w.pcv.Wait()
	}
	w.inFlight[p.slot]++
	w.pmu.Unlock()

	if w.failed.Load() {
		return fmt.Errorf("engine: compression already failed")
	}
	w.queue.Push(p)
	return nil
}

func (w *Writer) release(p *pkg) {
	w.pmu.Lock()
	w.inFlight[p.slot]--
	w.pmu.Unlock()
	w.pcv.Broadcast()
}

// worker pops packages, compresses them and hands the parts to the
// archive. Ordering-sensitive kinds (genotype, text, chromosome) pass
// through their stream's part gate so shared coder state advances in
// part-id order; everything else runs fully in parallel.
func (w *Writer) worker() error {
	for {
		p, ok := w.queue.Pop()
		if !ok {
			return nil
		}
		if err := w.compressPackage(p); err != nil {
			w.failAll()
			w.release(p)
			return err
		}
		w.release(p)
	}
}

func (w *Writer) failAll() {
	w.failed.Store(true)
	w.gtGate.fail()
	w.chromGate.fail()
	for _, g := range w.textGates {
		g.fail()
	}
	w.pcv.Broadcast()
}

func (w *Writer) compressPackage(p *pkg) error {
	switch p.kind {
	case pkgGT:
		width := int(p.sizes[0])
		rows := len(p.sizes)
		if !w.gtGate.wait(p.partID) {
			return fmt.Errorf("engine: genotype gate failed")
		}
		payload := w.gtCoder.CompressPart(p.data, width, rows)
		w.gtGate.done()
		w.ar.AddPart(p.sizeStream, p.partID, fieldcodec.CompressSizes(entropy.PresetSize, p.sizes))
		w.ar.AddPart(p.dataStream, p.partID, payload)

	case pkgField:
		var blob []byte
		switch w.keys[p.keyID].Type {
		case KeyFlag:
			blob = fieldcodec.CompressData(entropy.PresetFlag, p.data)
		case KeyInt:
			blob = fieldcodec.CompressData(entropy.PresetInt, p.data)
		case KeyReal:
			blob = fieldcodec.CompressData(entropy.PresetReal, p.data)
		case KeyText:
			g := w.textGates[p.keyID]
			if !g.wait(p.partID) {
				return fmt.Errorf("engine: text gate failed")
			}
			blob = fieldcodec.CompressText(w.textCodecs[p.keyID], entropy.PresetText, p.data)
			g.done()
		default:
			return fmt.Errorf("engine: package for unexpected key type %v", w.keys[p.keyID].Type)
		}
		w.ar.AddPart(p.sizeStream, p.partID, fieldcodec.CompressSizes(entropy.PresetSize, p.sizes))
		w.ar.AddPart(p.dataStream, p.partID, blob)

	case pkgDB:
		preset := dbPresets[p.dbID]
		var blob []byte
		if p.dbID == dbChrom {
			if !w.chromGate.wait(p.partID) {
				return fmt.Errorf("engine: chromosome gate failed")
			}
			blob = w.chromDict.Compress(p.sizes, p.data)
			w.chromGate.done()
		} else {
			blob = fieldcodec.CompressData(preset, p.data)
		}
		w.ar.AddPart(p.sizeStream, p.partID, fieldcodec.CompressSizes(preset, p.sizes))
		w.ar.AddPart(p.dataStream, p.partID, blob)
	}
	return nil
}

var dbPresets = [dbColumns]entropy.Preset{
	entropy.PresetDBChrom,
	entropy.PresetDBPos,
	entropy.PresetDBID,
	entropy.PresetDBRef,
	entropy.PresetDBAlt,
	entropy.PresetDBQual,
}

// Close drains the pipeline, runs the function-graph optimiser,
// rewrites the replaced streams, writes the descriptions and finalizes
// the archive. On any failure the partial archive is removed.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true

	if w.started {
		for i := range w.bufs {
			kind := pkgField
			if i == w.gtKey {
				kind = pkgGT
			}
			if err := w.seal(&w.bufs[i], kind, i, -1); err != nil {
				break
			}
		}
		for i := 0; i < dbColumns; i++ {
			if err := w.seal(&w.dbBufs[i], pkgDB, -1, i); err != nil {
				break
			}
		}
		w.queue.MarkCompleted()
		if err := w.grp.Wait(); err != nil {
			w.ar.Abort()
			return err
		}
	}
	if w.failed.Load() {
		w.ar.Abort()
		return fmt.Errorf("engine: compression failed")
	}

	graph := &graphopt.Graph{}
	if w.started && len(w.keys) > 0 {
		graph = graphopt.Optimize(w.trackers)
		w.applyGraph(graph)
		for i, t := range w.trackers {
			if t != nil {
				w.keys[i].Neglected = t.Uniform()
			}
		}
	} else if len(w.keys) > 0 {
		graph.SizeReplaced = make([]bool, len(w.keys))
		graph.DataReplaced = make([]bool, len(w.keys))
	}

	if err := w.writeDescriptions(graph); err != nil {
		w.ar.Abort()
		return err
	}
	if err := w.ar.Finalize(); err != nil {
		w.ar.Abort()
		return err
	}
	w.log.Info("archive written",
		zap.String("path", w.path),
		zap.Uint64("variants", w.variants),
		zap.Int("size_links", len(graph.SizeEdges)),
		zap.Int("data_edges", len(graph.DataEdges)))
	return nil
}

// applyGraph rewrites streams per the optimiser's decision: equality
// edges become links, mapping edges drop the destination payload and
// store a descriptor instead.
func (w *Writer) applyGraph(g *graphopt.Graph) {
	sizeSrc := make([]bool, len(w.keys))
	for _, e := range g.SizeEdges {
		sizeSrc[e.Src] = true
	}
	for _, e := range g.SizeEdges {
		w.ar.Link(keyStreamSize(e.Dst), keyStreamSize(e.Src))
	}
	for _, e := range g.DataEdges {
		if e.Equal {
			w.ar.Link(keyStreamData(e.Dst), keyStreamData(e.Src))
			continue
		}
		desc, err := msgpack.Marshal(&e)
		if err != nil {
			// Marshalling plain structs cannot fail; keep the stream.
			continue
		}
		id := w.ar.Register(funcStreamData(e.Dst))
		w.ar.AddPart(id, 0, entropy.Compress(entropy.PresetMeta, desc))
		w.ar.RemoveParts(w.bufs[e.Dst].dataStream)
		if !sizeSrc[e.Dst] && !g.SizeReplaced[e.Dst] {
			w.ar.RemoveParts(w.bufs[e.Dst].sizeStream)
		}
	}
}

func (w *Writer) writeDescriptions(g *graphopt.Graph) error {
	params := []byte{'G', 'T', 'S', '1', byte(w.neglect)}
	w.ar.AddPart(w.ar.Register(streamParams), 0, params)

	info := fileInfo{
		Variants:     w.variants,
		Samples:      uint32(len(w.samples)),
		Ploidy:       uint8(w.ploidy),
		GTKey:        w.gtKey,
		NeglectLimit: w.neglect,
		Keys:         w.keys,
	}
	if err := w.writeMetaStream(streamKeys, &info); err != nil {
		return err
	}
	w.ar.AddPart(w.ar.Register(streamMeta), 0, entropy.Compress(entropy.PresetMeta, []byte(w.meta)))
	w.ar.AddPart(w.ar.Register(streamHeader), 0, entropy.Compress(entropy.PresetMeta, []byte(w.header)))
	if err := w.writeMetaStream(streamSamples, w.samples); err != nil {
		return err
	}

	if err := w.writeMetaStream(streamGraphSizeNodes, g.SizeReplaced); err != nil {
		return err
	}
	if err := w.writeMetaStream(streamGraphSizeEdges, g.SizeEdges); err != nil {
		return err
	}
	if err := w.writeMetaStream(streamGraphDataNodes, g.DataReplaced); err != nil {
		return err
	}
	edges := make([]graphopt.DataEdge, len(g.DataEdges))
	for i, e := range g.DataEdges {
		edges[i] = graphopt.DataEdge{Dst: e.Dst, Src: e.Src, Equal: e.Equal}
	}
	return w.writeMetaStream(streamGraphDataEdges, edges)
}

func (w *Writer) writeMetaStream(name string, v any) error {
	blob, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	w.ar.AddPart(w.ar.Register(name), 0, entropy.Compress(entropy.PresetMeta, blob))
	return nil
}

// VariantCount returns the number of variants appended so far.
func (w *Writer) VariantCount() uint64 { return w.variants }
