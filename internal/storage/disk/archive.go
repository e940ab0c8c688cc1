package disk

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/OCAP2/worldlog/internal/progress"
	"github.com/OCAP2/worldlog/internal/schema"
	"github.com/OCAP2/worldlog/pkg/core"
	"github.com/klauspost/compress/flate"
)

func newArchiveWriter(w io.Writer) *zip.Writer {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	return zw
}

func openArchive(p string) (*zip.ReadCloser, error) {
	zr, err := zip.OpenReader(p)
	if err != nil {
		if errors.Is(err, zip.ErrFormat) {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrFormatMismatch, p, err)
		}
		return nil, ioErr("open", p, err)
	}
	zr.RegisterDecompressor(zip.Deflate, func(in io.Reader) io.ReadCloser {
		return flate.NewReader(in)
	})
	return zr, nil
}

// entryNames lists the files that make up an archive, metadata first.
func (s *Store) entryNames() []string {
	names := []string{metaFileName}
	for _, name := range s.order {
		names = append(names, name+recordExt)
	}
	return append(names, contactIndexName, contactDataName)
}

// EntryCount is the number of progress units Save reports.
func (s *Store) EntryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entryNames())
}

// Save writes the store as a zip archive at p. Entries live under a
// directory named archiveName. Cancellation through b removes the partial file.
func (s *Store) Save(p, archiveName string, b progress.Bridge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b = progress.Or(b)

	if s.writing {
		if err := s.flushLocked(); err != nil {
			return err
		}
	}
	if archiveName == "" {
		archiveName = s.meta.Name
	}
	s.meta.Name = archiveName
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return ioErr("mkdir", s.dir, err)
	}
	if err := s.writeMeta(); err != nil {
		return err
	}

	part := p + ".part"
	f, err := os.Create(part)
	if err != nil {
		return ioErr("create", part, err)
	}
	err = s.writeArchive(f, archiveName, b)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = ioErr("close", part, cerr)
	}
	if err != nil {
		os.Remove(part)
		return err
	}
	if err := os.Rename(part, p); err != nil {
		os.Remove(part)
		return ioErr("rename", part, err)
	}
	s.logger.Info("Archive saved", "path", p, "ticks", s.lenLocked())
	return nil
}

func (s *Store) writeArchive(f *os.File, archiveName string, b progress.Bridge) error {
	zw := newArchiveWriter(f)
	for _, name := range s.entryNames() {
		if err := progress.Check(b); err != nil {
			zw.Close()
			return err
		}
		if err := s.copyEntry(zw, archiveName, name); err != nil {
			zw.Close()
			return err
		}
		b.Worked(1)
	}
	if err := zw.Close(); err != nil {
		return ioErr("write", f.Name(), err)
	}
	return nil
}

func (s *Store) copyEntry(zw *zip.Writer, archiveName, name string) error {
	src := filepath.Join(s.dir, name)
	in, err := os.Open(src)
	if os.IsNotExist(err) && name != metaFileName {
		// streams that never saw a write are stored empty
		_, err = zw.Create(path.Join(archiveName, name))
		return err
	}
	if err != nil {
		return ioErr("open", src, err)
	}
	defer in.Close()

	w, err := zw.Create(path.Join(archiveName, name))
	if err != nil {
		return ioErr("write", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return ioErr("copy", src, err)
	}
	return nil
}

// ArchiveEntryCount returns the number of entries of an archive, for
// sizing progress before Load.
func ArchiveEntryCount(p string) (int, error) {
	zr, err := openArchive(p)
	if err != nil {
		return 0, err
	}
	defer zr.Close()
	return len(zr.File), nil
}

// Load extracts the archive at p into dir and returns a store opened for
// read. Layouts are rebuilt from the field lists stored in the archive.
func Load(p, dir string, b progress.Bridge, logger *slog.Logger) (*Store, error) {
	b = progress.Or(b)
	zr, err := openArchive(p)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioErr("mkdir", dir, err)
	}
	for _, zf := range zr.File {
		if err := progress.Check(b); err != nil {
			return nil, err
		}
		if err := extractEntry(zf, dir); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		b.Worked(1)
	}

	doc, err := readMeta(filepath.Join(dir, metaFileName))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	s := New(dir, logger)
	s.meta = doc.Time
	for _, cm := range doc.Characters {
		sc, err := schema.Parse(cm.Name, cm.Links, cm.Fields)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		if err := s.Register(sc); err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}
	if err := s.OpenRead(); err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	if n := s.Len(); n != doc.Ticks {
		s.CloseRead()
		return nil, fmt.Errorf("%w: %s: %d ticks stored, metadata says %d", core.ErrFormatMismatch, p, n, doc.Ticks)
	}
	return s, nil
}

func extractEntry(zf *zip.File, dir string) error {
	if zf.FileInfo().IsDir() {
		return nil
	}
	// entries are stored as <archive name>/<file>
	name := zf.Name
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".." {
		return fmt.Errorf("%w: unexpected archive entry %q", core.ErrFormatMismatch, zf.Name)
	}

	in, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %w", core.ErrFormatMismatch, zf.Name, err)
	}
	defer in.Close()

	dst := filepath.Join(dir, name)
	out, err := os.Create(dst)
	if err != nil {
		return ioErr("create", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return ioErr("extract", dst, err)
	}
	if err := out.Close(); err != nil {
		return ioErr("close", dst, err)
	}
	return nil
}
