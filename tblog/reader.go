package tblog

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Point is one logged scalar observation.
type Point struct {
	Step     int64   `json:"step"`
	WallTime float64 `json:"wall_time"`
	Value    float64 `json:"value"`
}

// ReadScalars parses every events file in a run directory and groups the
// scalar points by tag, in write order. A trailing partial record, the
// normal state of a live run, is ignored; a complete record with a bad
// checksum is reported as ErrCorruptEvents.
func ReadScalars(dir string) (map[string][]Point, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tblog: reading %s: %w", dir, err)
	}
	out := map[string][]Point{}
	for _, de := range dirents {
		if de.IsDir() || !strings.HasPrefix(de.Name(), "events.out.tfevents.") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("tblog: reading %s: %w", de.Name(), err)
		}
		if err := collectScalars(raw, out); err != nil {
			return nil, fmt.Errorf("tblog: %s: %w", de.Name(), err)
		}
	}
	return out, nil
}

func collectScalars(raw []byte, out map[string][]Point) error {
	off := 0
	for {
		payload, next, err := nextRecord(raw, off)
		if err != nil {
			return err
		}
		if payload == nil {
			return nil
		}
		off = next

		ev, err := decodeEvent(payload)
		if err != nil {
			return err
		}
		for _, v := range ev.values {
			out[v.tag] = append(out[v.tag], Point{
				Step:     ev.step,
				WallTime: ev.wallTime,
				Value:    v.value,
			})
		}
	}
}

// nextRecord unframes one TFRecord at off. A nil payload with nil error
// means the stream ended, possibly mid-record.
func nextRecord(raw []byte, off int) (payload []byte, next int, err error) {
	if len(raw)-off < 12 {
		return nil, off, nil
	}
	lenBuf := raw[off : off+8]
	length := binary.LittleEndian.Uint64(lenBuf)
	if length > maxRecordLen {
		return nil, off, fmt.Errorf("%w: record length %d", ErrCorruptEvents, length)
	}
	if got := binary.LittleEndian.Uint32(raw[off+8 : off+12]); got != maskedCRC(lenBuf) {
		return nil, off, fmt.Errorf("%w: length checksum mismatch", ErrCorruptEvents)
	}
	body := off + 12
	end := body + int(length)
	if end+4 > len(raw) {
		// Partial trailing record.
		return nil, off, nil
	}
	payload = raw[body:end]
	if got := binary.LittleEndian.Uint32(raw[end : end+4]); got != maskedCRC(payload) {
		return nil, off, fmt.Errorf("%w: payload checksum mismatch", ErrCorruptEvents)
	}
	return payload, end + 4, nil
}
