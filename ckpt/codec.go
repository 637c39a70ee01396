package ckpt

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sort"

	"github.com/classnets/classnets/nn"
	"github.com/classnets/classnets/optim"
)

// Container layout, all integers little-endian:
//
//	magic   "CNET"
//	version uint16
//	flags   uint16
//	metaLen uint32
//	bodyLen uint32
//	bodyCRC uint32 (CRC32-C over the compressed body)
//	meta    JSON
//	body    gzip stream of tensors and the optional optimizer section
const (
	magic         = "CNET"
	formatVersion = 1
	headerSize    = 20

	flagOptimizerState = 1 << 0

	maxMetaLen = 1 << 20
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encode(params []*nn.Param, meta Meta, optState *optim.State) ([]byte, error) {
	var body bytes.Buffer
	zw := gzip.NewWriter(&body)

	for _, p := range params {
		if err := writeString(zw, p.Name); err != nil {
			return nil, err
		}
		if err := writeDims(zw, p.Shape); err != nil {
			return nil, err
		}
		if err := writeFloats(zw, p.Data); err != nil {
			return nil, err
		}
	}
	var flags uint16
	if optState != nil {
		flags |= flagOptimizerState
		if err := writeOptimizerState(zw, *optState); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("ckpt: compressing body: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("ckpt: encoding meta: %w", err)
	}

	out := make([]byte, 0, headerSize+len(metaJSON)+body.Len())
	out = append(out, magic...)
	out = binary.LittleEndian.AppendUint16(out, formatVersion)
	out = binary.LittleEndian.AppendUint16(out, flags)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(metaJSON)))
	out = binary.LittleEndian.AppendUint32(out, uint32(body.Len()))
	out = binary.LittleEndian.AppendUint32(out, crc32.Checksum(body.Bytes(), castagnoli))
	out = append(out, metaJSON...)
	out = append(out, body.Bytes()...)
	return out, nil
}

type header struct {
	version uint16
	flags   uint16
	metaLen uint32
	bodyLen uint32
	bodyCRC uint32
}

func parseHeader(raw []byte) (header, error) {
	var h header
	if len(raw) < headerSize || string(raw[:4]) != magic {
		return h, ErrNotCheckpoint
	}
	h.version = binary.LittleEndian.Uint16(raw[4:6])
	h.flags = binary.LittleEndian.Uint16(raw[6:8])
	h.metaLen = binary.LittleEndian.Uint32(raw[8:12])
	h.bodyLen = binary.LittleEndian.Uint32(raw[12:16])
	h.bodyCRC = binary.LittleEndian.Uint32(raw[16:20])
	if h.version > formatVersion {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.version)
	}
	if h.metaLen > maxMetaLen {
		return h, fmt.Errorf("%w: meta length %d", ErrCorruptCheckpoint, h.metaLen)
	}
	return h, nil
}

// decodeFile reads and checksums the whole container. The optimizer state is
// non-nil only when the file embeds one.
func decodeFile(path string) (Meta, []*nn.Param, *optim.State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, nil, fmt.Errorf("ckpt: reading %s: %w", path, err)
	}
	h, err := parseHeader(raw)
	if err != nil {
		return Meta{}, nil, nil, err
	}
	if uint64(len(raw)) != uint64(headerSize)+uint64(h.metaLen)+uint64(h.bodyLen) {
		return Meta{}, nil, nil, fmt.Errorf("%w: file length %d", ErrCorruptCheckpoint, len(raw))
	}
	metaJSON := raw[headerSize : headerSize+h.metaLen]
	body := raw[headerSize+h.metaLen:]
	if crc32.Checksum(body, castagnoli) != h.bodyCRC {
		return Meta{}, nil, nil, fmt.Errorf("%w: body checksum mismatch", ErrCorruptCheckpoint)
	}

	var meta Meta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return Meta{}, nil, nil, fmt.Errorf("%w: meta: %v", ErrCorruptCheckpoint, err)
	}
	if meta.Tensors < 0 {
		return Meta{}, nil, nil, fmt.Errorf("%w: tensor count %d", ErrCorruptCheckpoint, meta.Tensors)
	}

	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return Meta{}, nil, nil, fmt.Errorf("%w: body: %v", ErrCorruptCheckpoint, err)
	}
	defer zr.Close()
	plain, err := io.ReadAll(zr)
	if err != nil {
		return Meta{}, nil, nil, fmt.Errorf("%w: body: %v", ErrCorruptCheckpoint, err)
	}

	// The checksum covers only the body; counts declared in meta are
	// unverified input and never size an allocation.
	r := &reader{buf: plain}
	var params []*nn.Param
	for i := 0; i < meta.Tensors; i++ {
		name, err := r.string()
		if err != nil {
			return Meta{}, nil, nil, err
		}
		dims, err := r.dims()
		if err != nil {
			return Meta{}, nil, nil, err
		}
		data, err := r.floats()
		if err != nil {
			return Meta{}, nil, nil, err
		}
		n := 1
		for _, d := range dims {
			n *= d
		}
		if n != len(data) {
			return Meta{}, nil, nil, fmt.Errorf("%w: tensor %q has %d values for shape %v",
				ErrCorruptCheckpoint, name, len(data), dims)
		}
		params = append(params, &nn.Param{Name: name, Shape: dims, Data: data})
	}

	var state *optim.State
	if h.flags&flagOptimizerState != 0 {
		st, err := r.optimizerState()
		if err != nil {
			return Meta{}, nil, nil, err
		}
		state = &st
	}
	if r.off != len(r.buf) {
		return Meta{}, nil, nil, fmt.Errorf("%w: %d trailing bytes in body", ErrCorruptCheckpoint, len(r.buf)-r.off)
	}
	return meta, params, state, nil
}

// readMeta parses only the header and meta section, skipping the body. List
// uses it to stay cheap on large checkpoints.
func readMeta(path string) (Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return Meta{}, fmt.Errorf("ckpt: opening %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, headerSize)
	if _, err := io.ReadFull(f, head); err != nil {
		return Meta{}, ErrNotCheckpoint
	}
	h, err := parseHeader(head)
	if err != nil {
		return Meta{}, err
	}
	metaJSON := make([]byte, h.metaLen)
	if _, err := io.ReadFull(f, metaJSON); err != nil {
		return Meta{}, fmt.Errorf("%w: meta: %v", ErrCorruptCheckpoint, err)
	}
	var meta Meta
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return Meta{}, fmt.Errorf("%w: meta: %v", ErrCorruptCheckpoint, err)
	}
	return meta, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("ckpt: name too long (%d bytes)", len(s))
	}
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], uint16(len(s)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeDims(w io.Writer, dims []int) error {
	if len(dims) > math.MaxUint8 {
		return fmt.Errorf("ckpt: rank %d too large", len(dims))
	}
	buf := make([]byte, 1+4*len(dims))
	buf[0] = byte(len(dims))
	for i, d := range dims {
		binary.LittleEndian.PutUint32(buf[1+4*i:], uint32(d))
	}
	_, err := w.Write(buf)
	return err
}

func writeFloats(w io.Writer, data []float32) error {
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(data)))
	if _, err := w.Write(head[:]); err != nil {
		return err
	}
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	_, err := w.Write(buf)
	return err
}

func writeOptimizerState(w io.Writer, st optim.State) error {
	if err := writeString(w, st.Name); err != nil {
		return err
	}
	var step [8]byte
	binary.LittleEndian.PutUint64(step[:], uint64(st.Step))
	if _, err := w.Write(step[:]); err != nil {
		return err
	}
	slots := make([]string, 0, len(st.Slots))
	for name := range st.Slots {
		slots = append(slots, name)
	}
	// Deterministic slot order keeps equal states byte-identical.
	sort.Strings(slots)
	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(slots)))
	if _, err := w.Write(count[:]); err != nil {
		return err
	}
	for _, name := range slots {
		if err := writeString(w, name); err != nil {
			return err
		}
		if err := writeFloats(w, st.Slots[name]); err != nil {
			return err
		}
	}
	return nil
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) take(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.buf) {
		return nil, fmt.Errorf("%w: truncated body", ErrCorruptCheckpoint)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) string() (string, error) {
	b, err := r.take(2)
	if err != nil {
		return "", err
	}
	n := int(binary.LittleEndian.Uint16(b))
	s, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (r *reader) dims() ([]int, error) {
	b, err := r.take(1)
	if err != nil {
		return nil, err
	}
	rank := int(b[0])
	raw, err := r.take(4 * rank)
	if err != nil {
		return nil, err
	}
	dims := make([]int, rank)
	for i := range dims {
		dims[i] = int(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return dims, nil
}

func (r *reader) floats() ([]float32, error) {
	b, err := r.take(4)
	if err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(b))
	raw, err := r.take(4 * n)
	if err != nil {
		return nil, err
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return data, nil
}

func (r *reader) optimizerState() (optim.State, error) {
	name, err := r.string()
	if err != nil {
		return optim.State{}, err
	}
	b, err := r.take(8)
	if err != nil {
		return optim.State{}, err
	}
	step := int64(binary.LittleEndian.Uint64(b))
	b, err = r.take(2)
	if err != nil {
		return optim.State{}, err
	}
	count := int(binary.LittleEndian.Uint16(b))
	slots := make(map[string][]float32, count)
	for i := 0; i < count; i++ {
		slot, err := r.string()
		if err != nil {
			return optim.State{}, err
		}
		data, err := r.floats()
		if err != nil {
			return optim.State{}, err
		}
		slots[slot] = data
	}
	return optim.State{Name: name, Step: step, Slots: slots}, nil
}
