package disk

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/OCAP2/worldlog/pkg/core"
)

const (
	contactIndexEntry = 12 // uint64 byte offset + uint32 point count
	contactPointSize  = 10 * 8
)

// contactStream stores the variable-length contact lists, one entry per tick.
type contactStream struct {
	idxPath, datPath string

	idxW, datW   *os.File
	idxBW, datBW *bufio.Writer
	idxR, datR   *os.File

	count   int
	flushed int
	datSize int64
}

func (c *contactStream) sizes() (int, int64, error) {
	idx, err := os.Stat(c.idxPath)
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, ioErr("stat", c.idxPath, err)
	}
	if idx.Size()%contactIndexEntry != 0 {
		return 0, 0, fmt.Errorf("%w: %s: trailing partial entry", core.ErrFormatMismatch, c.idxPath)
	}
	dat, err := os.Stat(c.datPath)
	if os.IsNotExist(err) {
		if idx.Size() > 0 {
			return 0, 0, fmt.Errorf("%w: %s missing", core.ErrFormatMismatch, c.datPath)
		}
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, ioErr("stat", c.datPath, err)
	}
	return int(idx.Size() / contactIndexEntry), dat.Size(), nil
}

func (c *contactStream) openWrite() error {
	n, datSize, err := c.sizes()
	if err != nil {
		return err
	}
	idx, err := os.OpenFile(c.idxPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return ioErr("open", c.idxPath, err)
	}
	dat, err := os.OpenFile(c.datPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		idx.Close()
		return ioErr("open", c.datPath, err)
	}
	c.idxW, c.datW = idx, dat
	c.idxBW, c.datBW = bufio.NewWriter(idx), bufio.NewWriterSize(dat, 64*1024)
	c.count, c.flushed, c.datSize = n, n, datSize
	return nil
}

func (c *contactStream) openRead() error {
	if c.idxW == nil {
		n, datSize, err := c.sizes()
		if err != nil {
			return err
		}
		c.count, c.flushed, c.datSize = n, n, datSize
	}
	idx, err := os.OpenFile(c.idxPath, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		return ioErr("open", c.idxPath, err)
	}
	dat, err := os.OpenFile(c.datPath, os.O_RDONLY|os.O_CREATE, 0644)
	if err != nil {
		idx.Close()
		return ioErr("open", c.datPath, err)
	}
	c.idxR, c.datR = idx, dat
	return nil
}

func (c *contactStream) append(points []core.ContactPoint) error {
	var entry [contactIndexEntry]byte
	binary.LittleEndian.PutUint64(entry[:8], uint64(c.datSize))
	binary.LittleEndian.PutUint32(entry[8:], uint32(len(points)))

	var raw [contactPointSize]byte
	for _, p := range points {
		vals := [10]float64{
			p.PointA[0], p.PointA[1], p.PointA[2],
			p.PointB[0], p.PointB[1], p.PointB[2],
			p.Normal[0], p.Normal[1], p.Normal[2],
			p.Depth,
		}
		for i, v := range vals {
			binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
		}
		if _, err := c.datBW.Write(raw[:]); err != nil {
			return ioErr("write", c.datPath, err)
		}
	}
	if _, err := c.idxBW.Write(entry[:]); err != nil {
		return ioErr("write", c.idxPath, err)
	}
	c.datSize += int64(len(points)) * contactPointSize
	c.count++
	return nil
}

func (c *contactStream) flush() error {
	if c.idxBW == nil {
		return nil
	}
	if err := c.datBW.Flush(); err != nil {
		return ioErr("flush", c.datPath, err)
	}
	if err := c.idxBW.Flush(); err != nil {
		return ioErr("flush", c.idxPath, err)
	}
	c.flushed = c.count
	return nil
}

func (c *contactStream) entry(pos int) (offset int64, n int, err error) {
	var raw [contactIndexEntry]byte
	if _, err := c.idxR.ReadAt(raw[:], int64(pos)*contactIndexEntry); err != nil {
		return 0, 0, ioErr("read", c.idxPath, err)
	}
	return int64(binary.LittleEndian.Uint64(raw[:8])), int(binary.LittleEndian.Uint32(raw[8:])), nil
}

func (c *contactStream) read(pos int) ([]core.ContactPoint, error) {
	if pos < 0 || pos >= c.count {
		return nil, fmt.Errorf("%w: contacts: position %d of %d", core.ErrOutOfRange, pos, c.count)
	}
	if pos >= c.flushed {
		if err := c.flush(); err != nil {
			return nil, err
		}
	}
	offset, n, err := c.entry(pos)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	raw := make([]byte, n*contactPointSize)
	if _, err := c.datR.ReadAt(raw, offset); err != nil {
		return nil, ioErr("read", c.datPath, err)
	}
	out := make([]core.ContactPoint, n)
	for k := range out {
		var vals [10]float64
		for i := range vals {
			vals[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[k*contactPointSize+i*8:]))
		}
		out[k] = core.ContactPoint{
			PointA: [3]float64{vals[0], vals[1], vals[2]},
			PointB: [3]float64{vals[3], vals[4], vals[5]},
			Normal: [3]float64{vals[6], vals[7], vals[8]},
			Depth:  vals[9],
		}
	}
	return out, nil
}

// truncate drops entries from n on. Requires an open read handle.
func (c *contactStream) truncate(n int) error {
	if n <= c.flushed {
		c.discard()
	} else if err := c.flush(); err != nil {
		return err
	}
	datSize, err := c.endOf(n)
	if err != nil {
		return err
	}
	if err := os.Truncate(c.idxPath, int64(n)*contactIndexEntry); err != nil {
		return ioErr("truncate", c.idxPath, err)
	}
	if err := os.Truncate(c.datPath, datSize); err != nil {
		return ioErr("truncate", c.datPath, err)
	}
	c.count, c.flushed, c.datSize = n, n, datSize
	return nil
}

// discard drops the buffered entries.
func (c *contactStream) discard() {
	if c.idxBW != nil {
		c.idxBW.Reset(c.idxW)
		c.datBW.Reset(c.datW)
	}
	c.count = c.flushed
}

// endOf returns the data size of the first n entries, which must be flushed.
func (c *contactStream) endOf(n int) (int64, error) {
	if n == 0 {
		return 0, nil
	}
	offset, k, err := c.entry(n - 1)
	if err != nil {
		return 0, err
	}
	return offset + int64(k)*contactPointSize, nil
}

// appendFrom copies all entries of other, rebasing their data offsets.
func (c *contactStream) appendFrom(other *contactStream) error {
	if err := c.flush(); err != nil {
		return err
	}
	idx, err := os.Open(other.idxPath)
	if err != nil {
		return ioErr("open", other.idxPath, err)
	}
	defer idx.Close()
	r := bufio.NewReader(io.NewSectionReader(idx, 0, int64(other.count)*contactIndexEntry))
	var raw [contactIndexEntry]byte
	for i := 0; i < other.count; i++ {
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return ioErr("read", other.idxPath, err)
		}
		off := binary.LittleEndian.Uint64(raw[:8])
		binary.LittleEndian.PutUint64(raw[:8], off+uint64(c.datSize))
		if _, err := c.idxBW.Write(raw[:]); err != nil {
			return ioErr("write", c.idxPath, err)
		}
	}

	dat, err := os.Open(other.datPath)
	if err != nil {
		return ioErr("open", other.datPath, err)
	}
	defer dat.Close()
	if _, err := io.Copy(c.datBW, io.NewSectionReader(dat, 0, other.datSize)); err != nil {
		return ioErr("copy", other.datPath, err)
	}
	c.count += other.count
	c.datSize += other.datSize
	return c.flush()
}

func (c *contactStream) closeWrite() error {
	if c.idxW == nil {
		return nil
	}
	err := c.flush()
	for _, f := range []*os.File{c.datW, c.idxW} {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = ioErr("close", f.Name(), cerr)
		}
	}
	c.idxW, c.datW, c.idxBW, c.datBW = nil, nil, nil, nil
	return err
}

func (c *contactStream) closeRead() error {
	if c.idxR == nil {
		return nil
	}
	var err error
	for _, f := range []*os.File{c.datR, c.idxR} {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = ioErr("close", f.Name(), cerr)
		}
	}
	c.idxR, c.datR = nil, nil
	return err
}
