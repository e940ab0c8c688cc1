package disk

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/pkg/core"
)

// record file header: magic followed by the record width in slots
var recordMagic = [4]byte{'W', 'S', 'L', '1'}

const headerSize = 8

// stream is the record file of one character.
type stream struct {
	schema *schema.Schema
	path   string

	w  *os.File
	bw *bufio.Writer
	r  *os.File

	count   int // records written, buffered ones included
	flushed int
	scratch []byte
}

func newStream(sc *schema.Schema, path string) *stream {
	return &stream{schema: sc, path: path, scratch: make([]byte, sc.Width()*4)}
}

func (st *stream) recordSize() int64 {
	return int64(st.schema.Width()) * 4
}

func (st *stream) offset(pos int) int64 {
	return headerSize + int64(pos)*st.recordSize()
}

func writeHeader(w io.Writer, width int) error {
	var hdr [headerSize]byte
	copy(hdr[:4], recordMagic[:])
	binary.LittleEndian.PutUint32(hdr[4:], uint32(width))
	_, err := w.Write(hdr[:])
	return err
}

// checkFile validates the header of an existing record file and returns its record count.
func (st *stream) checkFile(f *os.File) (int, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, ioErr("stat", st.path, err)
	}
	size := info.Size()
	if size == 0 {
		return 0, nil
	}
	var hdr [headerSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return 0, fmt.Errorf("%w: %s: short header", core.ErrFormatMismatch, st.path)
	}
	if [4]byte(hdr[:4]) != recordMagic {
		return 0, fmt.Errorf("%w: %s: bad magic", core.ErrFormatMismatch, st.path)
	}
	if w := int(binary.LittleEndian.Uint32(hdr[4:])); w != st.schema.Width() {
		return 0, fmt.Errorf("%w: %s: record width %d, want %d", core.ErrFormatMismatch, st.path, w, st.schema.Width())
	}
	body := size - headerSize
	if body%st.recordSize() != 0 {
		return 0, fmt.Errorf("%w: %s: trailing partial record", core.ErrFormatMismatch, st.path)
	}
	return int(body / st.recordSize()), nil
}

func (st *stream) openWrite() error {
	f, err := os.OpenFile(st.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return ioErr("open", st.path, err)
	}
	n, err := st.checkFile(f)
	if err != nil {
		f.Close()
		return err
	}
	if n == 0 {
		if err := f.Truncate(0); err != nil {
			f.Close()
			return ioErr("truncate", st.path, err)
		}
		if err := writeHeader(f, st.schema.Width()); err != nil {
			f.Close()
			return ioErr("write", st.path, err)
		}
	}
	if _, err := f.Seek(st.offset(n), io.SeekStart); err != nil {
		f.Close()
		return ioErr("seek", st.path, err)
	}
	st.w = f
	st.bw = bufio.NewWriterSize(f, 64*1024)
	st.count, st.flushed = n, n
	return nil
}

func (st *stream) openRead() error {
	f, err := os.Open(st.path)
	if err != nil {
		return ioErr("open", st.path, err)
	}
	if st.w == nil {
		n, err := st.checkFile(f)
		if err != nil {
			f.Close()
			return err
		}
		st.count, st.flushed = n, n
	}
	st.r = f
	return nil
}

func (st *stream) append(rec []float32) error {
	if len(rec) != st.schema.Width() {
		return fmt.Errorf("%w: %s: record has %d slots, want %d", core.ErrFormatMismatch, st.schema.Character, len(rec), st.schema.Width())
	}
	for i, v := range rec {
		binary.LittleEndian.PutUint32(st.scratch[i*4:], math.Float32bits(v))
	}
	if _, err := st.bw.Write(st.scratch); err != nil {
		return ioErr("write", st.path, err)
	}
	st.count++
	return nil
}

func (st *stream) flush() error {
	if st.bw == nil {
		return nil
	}
	if err := st.bw.Flush(); err != nil {
		return ioErr("flush", st.path, err)
	}
	st.flushed = st.count
	return nil
}

func (st *stream) read(pos int, buf []float32) ([]float32, error) {
	if pos < 0 || pos >= st.count {
		return nil, fmt.Errorf("%w: %s: position %d of %d", core.ErrOutOfRange, st.schema.Character, pos, st.count)
	}
	if pos >= st.flushed {
		if err := st.flush(); err != nil {
			return nil, err
		}
	}
	raw := make([]byte, st.recordSize())
	if _, err := st.r.ReadAt(raw, st.offset(pos)); err != nil {
		return nil, ioErr("read", st.path, err)
	}
	width := st.schema.Width()
	if cap(buf) < width {
		buf = make([]float32, width)
	}
	buf = buf[:width]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return buf, nil
}

// truncate drops records from n on. Buffered records past n are discarded
// without being written, so a writer left broken by a failed write recovers.
func (st *stream) truncate(n int) error {
	if n <= st.flushed {
		st.discard()
	} else if err := st.flush(); err != nil {
		return err
	}
	if err := os.Truncate(st.path, st.offset(n)); err != nil {
		return ioErr("truncate", st.path, err)
	}
	if st.w != nil {
		if _, err := st.w.Seek(st.offset(n), io.SeekStart); err != nil {
			return ioErr("seek", st.path, err)
		}
	}
	st.count, st.flushed = n, n
	return nil
}

// discard drops the buffered records.
func (st *stream) discard() {
	if st.bw != nil {
		st.bw.Reset(st.w)
	}
	st.count = st.flushed
}

// appendFrom copies every record of other onto the end of st.
func (st *stream) appendFrom(other *stream) error {
	if err := st.flush(); err != nil {
		return err
	}
	src, err := os.Open(other.path)
	if err != nil {
		return ioErr("open", other.path, err)
	}
	defer src.Close()
	n := int64(other.count) * other.recordSize()
	if _, err := io.Copy(st.w, io.NewSectionReader(src, headerSize, n)); err != nil {
		return ioErr("copy", other.path, err)
	}
	st.count += other.count
	st.flushed = st.count
	return nil
}

func (st *stream) closeWrite() error {
	if st.w == nil {
		return nil
	}
	err := st.flush()
	if cerr := st.w.Close(); cerr != nil && err == nil {
		err = ioErr("close", st.path, cerr)
	}
	st.w, st.bw = nil, nil
	return err
}

func (st *stream) closeRead() error {
	if st.r == nil {
		return nil
	}
	err := st.r.Close()
	st.r = nil
	if err != nil {
		return ioErr("close", st.path, err)
	}
	return nil
}
