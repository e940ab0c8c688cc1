package disk

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/OCAP2/worldlog/internal/progress"
	"github.com/OCAP2/worldlog/pkg/core"
)

// ExportCSV writes every record of a character to a CSV file at p. The
// header row holds one column per slot; servo slots are printed as integers.
// Numbers use Go's shortest float32 formatting and never depend on locale.
func (s *Store) ExportCSV(p, name string, b progress.Bridge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b = progress.Or(b)

	st, ok := s.streams[name]
	if !ok {
		return fmt.Errorf("%w: unknown character %q", core.ErrFormatMismatch, name)
	}
	if err := s.openReadLocked(); err != nil {
		return err
	}

	f, err := os.Create(p)
	if err != nil {
		return ioErr("create", p, err)
	}
	err = writeCSV(f, st, s.lenLocked(), b)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = ioErr("close", p, cerr)
	}
	if err != nil {
		os.Remove(p)
		return err
	}
	return nil
}

func writeCSV(f *os.File, st *stream, n int, b progress.Bridge) error {
	bw := bufio.NewWriterSize(f, 64*1024)
	w := csv.NewWriter(bw)
	if err := w.Write(st.schema.ScalarNames()); err != nil {
		return ioErr("write", f.Name(), err)
	}

	packed := st.schema.PackedSlots()
	row := make([]string, st.schema.Width())
	var rec []float32
	var err error
	for pos := 0; pos < n; pos++ {
		if err := progress.Check(b); err != nil {
			return err
		}
		if rec, err = st.read(pos, rec); err != nil {
			return err
		}
		for i, v := range rec {
			if packed[i] {
				row[i] = strconv.FormatInt(int64(int32(math.Float32bits(v))), 10)
				continue
			}
			row[i] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		}
		if err := w.Write(row); err != nil {
			return ioErr("write", f.Name(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ioErr("write", f.Name(), err)
	}
	if err := bw.Flush(); err != nil {
		return ioErr("write", f.Name(), err)
	}
	return nil
}
