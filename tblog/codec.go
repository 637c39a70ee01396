package tblog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

// tfevents files are TFRecord streams: each record is an 8-byte payload
// length, the masked CRC32-C of that length field, the payload (a serialized
// Event proto), and the masked CRC32-C of the payload.
const (
	crcMaskDelta = 0xa282ead8
	maxRecordLen = 64 << 20

	fileVersion = "brain.Event:2"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(data []byte) uint32 {
	c := crc32.Checksum(data, castagnoli)
	return ((c >> 15) | (c << 17)) + crcMaskDelta
}

func appendRecord(dst, payload []byte) []byte {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))
	dst = append(dst, lenBuf[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, maskedCRC(lenBuf[:]))
	dst = append(dst, payload...)
	dst = binary.LittleEndian.AppendUint32(dst, maskedCRC(payload))
	return dst
}

// Event proto field keys. Only the pieces scalar logging needs:
//
//	Event:         double wall_time = 1; int64 step = 2;
//	               string file_version = 3; Summary summary = 5;
//	Summary:       repeated Value value = 1;
//	Summary.Value: string tag = 1; float simple_value = 2;
type protoBuf struct {
	b []byte
}

func (p *protoBuf) key(field, wire int) {
	p.raw(uint64(field<<3 | wire))
}

func (p *protoBuf) raw(v uint64) {
	for v >= 0x80 {
		p.b = append(p.b, byte(v)|0x80)
		v >>= 7
	}
	p.b = append(p.b, byte(v))
}

func (p *protoBuf) varint(field int, v uint64) {
	p.key(field, 0)
	p.raw(v)
}

func (p *protoBuf) fixed64(field int, v uint64) {
	p.key(field, 1)
	p.b = binary.LittleEndian.AppendUint64(p.b, v)
}

func (p *protoBuf) fixed32(field int, v uint32) {
	p.key(field, 5)
	p.b = binary.LittleEndian.AppendUint32(p.b, v)
}

func (p *protoBuf) bytes(field int, data []byte) {
	p.key(field, 2)
	p.raw(uint64(len(data)))
	p.b = append(p.b, data...)
}

func (p *protoBuf) str(field int, s string) {
	p.bytes(field, []byte(s))
}

func encodeVersionEvent(wallTime float64) []byte {
	var ev protoBuf
	ev.fixed64(1, math.Float64bits(wallTime))
	ev.str(3, fileVersion)
	return ev.b
}

func encodeScalarEvent(wallTime float64, step int64, tag string, value float64) []byte {
	var val protoBuf
	val.str(1, tag)
	val.fixed32(2, math.Float32bits(float32(value)))

	var sum protoBuf
	sum.bytes(1, val.b)

	var ev protoBuf
	ev.fixed64(1, math.Float64bits(wallTime))
	ev.varint(2, uint64(step))
	ev.bytes(5, sum.b)
	return ev.b
}

type protoCursor struct {
	b   []byte
	off int
}

func (c *protoCursor) done() bool {
	return c.off >= len(c.b)
}

func (c *protoCursor) varint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if c.off >= len(c.b) {
			return 0, fmt.Errorf("%w: truncated varint", ErrCorruptEvents)
		}
		b := c.b[c.off]
		c.off++
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("%w: varint overflow", ErrCorruptEvents)
		}
	}
}

func (c *protoCursor) take(n int) ([]byte, error) {
	if n < 0 || c.off+n > len(c.b) {
		return nil, fmt.Errorf("%w: truncated field", ErrCorruptEvents)
	}
	b := c.b[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *protoCursor) field() (num, wire int, err error) {
	key, err := c.varint()
	if err != nil {
		return 0, 0, err
	}
	return int(key >> 3), int(key & 7), nil
}

func (c *protoCursor) lenDelim() ([]byte, error) {
	n, err := c.varint()
	if err != nil {
		return nil, err
	}
	return c.take(int(n))
}

func (c *protoCursor) skip(wire int) error {
	switch wire {
	case 0:
		_, err := c.varint()
		return err
	case 1:
		_, err := c.take(8)
		return err
	case 2:
		_, err := c.lenDelim()
		return err
	case 5:
		_, err := c.take(4)
		return err
	default:
		return fmt.Errorf("%w: wire type %d", ErrCorruptEvents, wire)
	}
}

type scalarValue struct {
	tag   string
	value float64
}

type event struct {
	wallTime float64
	step     int64
	values   []scalarValue
}

func decodeEvent(raw []byte) (event, error) {
	var ev event
	c := &protoCursor{b: raw}
	for !c.done() {
		num, wire, err := c.field()
		if err != nil {
			return ev, err
		}
		switch {
		case num == 1 && wire == 1:
			b, err := c.take(8)
			if err != nil {
				return ev, err
			}
			ev.wallTime = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case num == 2 && wire == 0:
			v, err := c.varint()
			if err != nil {
				return ev, err
			}
			ev.step = int64(v)
		case num == 5 && wire == 2:
			b, err := c.lenDelim()
			if err != nil {
				return ev, err
			}
			values, err := decodeSummary(b)
			if err != nil {
				return ev, err
			}
			ev.values = append(ev.values, values...)
		default:
			if err := c.skip(wire); err != nil {
				return ev, err
			}
		}
	}
	return ev, nil
}

func decodeSummary(raw []byte) ([]scalarValue, error) {
	var out []scalarValue
	c := &protoCursor{b: raw}
	for !c.done() {
		num, wire, err := c.field()
		if err != nil {
			return nil, err
		}
		if num == 1 && wire == 2 {
			b, err := c.lenDelim()
			if err != nil {
				return nil, err
			}
			v, ok, err := decodeValue(b)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, v)
			}
			continue
		}
		if err := c.skip(wire); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodeValue returns ok=false for summary values that are not simple
// scalars (histograms, images, ...), which a reader should pass over.
func decodeValue(raw []byte) (scalarValue, bool, error) {
	var v scalarValue
	hasValue := false
	c := &protoCursor{b: raw}
	for !c.done() {
		num, wire, err := c.field()
		if err != nil {
			return v, false, err
		}
		switch {
		case num == 1 && wire == 2:
			b, err := c.lenDelim()
			if err != nil {
				return v, false, err
			}
			v.tag = string(b)
		case num == 2 && wire == 5:
			b, err := c.take(4)
			if err != nil {
				return v, false, err
			}
			v.value = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
			hasValue = true
		default:
			if err := c.skip(wire); err != nil {
				return v, false, err
			}
		}
	}
	return v, hasValue, nil
}
