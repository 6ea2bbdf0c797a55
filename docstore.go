package geolocate

import (
	"bufio"
	"compress/bzip2"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how a document snapshot is compressed on disk.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
	// CompressionBzip2 can only be read.
	CompressionBzip2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionBzip2:
		return "bzip2"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// CompressionForPath picks the compression from the file extension:
// .zst, .lz4 or .bz2.
func CompressionForPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zst", ".zstd":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	case ".bz2":
		return CompressionBzip2
	}
	return CompressionNone
}

// snapshotVersion is bumped whenever documentGob changes incompatibly.
const snapshotVersion = 1

var errSnapshotVersion = errors.New("unsupported snapshot version")

type snapshotHeader struct {
	Version int
	Count   int
}

type bigramCountGob struct {
	First, Second string
	Count         int
}

// documentGob is the on-disk form of a Document.
type documentGob struct {
	ID         string
	HasCoord   bool
	Lat, Long  float64
	TermCounts map[string]int
	Bigrams    []bigramCountGob
	Salience   *float64
	Split      Split
}

func toGob(d *Document) documentGob {
	g := documentGob{
		ID:         string(d.ID),
		TermCounts: d.TermCounts,
		Salience:   d.Salience,
		Split:      d.Split,
	}
	if d.Coord != nil {
		g.HasCoord = true
		g.Lat, g.Long = d.Coord.Lat, d.Coord.Long
	}
	for _, bg := range d.sortedBigrams() {
		g.Bigrams = append(g.Bigrams, bigramCountGob{First: bg.First, Second: bg.Second, Count: d.BigramCounts[bg]})
	}
	return g
}

func fromGob(g documentGob) *Document {
	d := &Document{
		ID:         DocumentID(g.ID),
		TermCounts: g.TermCounts,
		Salience:   g.Salience,
		Split:      g.Split,
	}
	if d.TermCounts == nil {
		d.TermCounts = make(map[string]int)
	}
	if g.HasCoord {
		d.Coord = &Coord{Lat: g.Lat, Long: g.Long}
	}
	if len(g.Bigrams) > 0 {
		d.BigramCounts = make(map[Bigram]int, len(g.Bigrams))
		for _, b := range g.Bigrams {
			d.BigramCounts[Bigram{First: b.First, Second: b.Second}] += b.Count
		}
	}
	return d
}

// WriteDocuments encodes docs to w as a gob stream compressed with c.
func WriteDocuments(w io.Writer, docs []*Document, c Compression) (err error) {
	var zw io.WriteCloser
	switch c {
	case CompressionNone:
	case CompressionZstd:
		if zw, err = zstd.NewWriter(w); err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
	case CompressionLZ4:
		zw = lz4.NewWriter(w)
	default:
		return fmt.Errorf("writing %v snapshots is not supported", c)
	}
	if zw != nil {
		w = zw
		defer func() {
			if cerr := zw.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("closing %v writer: %w", c, cerr)
			}
		}()
	}

	enc := gob.NewEncoder(w)
	if err := enc.Encode(snapshotHeader{Version: snapshotVersion, Count: len(docs)}); err != nil {
		return fmt.Errorf("encoding snapshot header: %w", err)
	}
	for _, d := range docs {
		if err := enc.Encode(toGob(d)); err != nil {
			return fmt.Errorf("encoding document %q: %w", d.ID, err)
		}
	}
	return nil
}

// ReadDocuments decodes a snapshot written by WriteDocuments. Bzip2 input
// is accepted too.
func ReadDocuments(r io.Reader, c Compression) ([]*Document, error) {
	switch c {
	case CompressionNone:
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	case CompressionLZ4:
		r = lz4.NewReader(r)
	case CompressionBzip2:
		r = bzip2.NewReader(r)
	default:
		return nil, fmt.Errorf("reading %v snapshots is not supported", c)
	}

	dec := gob.NewDecoder(r)
	var h snapshotHeader
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("decoding snapshot header: %w", err)
	}
	if h.Version != snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d: %w", h.Version, errSnapshotVersion)
	}
	docs := make([]*Document, 0, h.Count)
	for i := range h.Count {
		var g documentGob
		if err := dec.Decode(&g); err != nil {
			return nil, fmt.Errorf("decoding document %d of %d: %w", i+1, h.Count, err)
		}
		docs = append(docs, fromGob(g))
	}
	return docs, nil
}

// SaveDocuments writes docs to path, compressed according to its extension.
func SaveDocuments(path string, docs []*Document) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := WriteDocuments(bw, docs, CompressionForPath(path)); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// LoadDocuments reads a snapshot from path, decompressing according to its
// extension. If path does not exist but path+".bz2" does, that is read
// instead.
func LoadDocuments(path string) ([]*Document, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) && CompressionForPath(path) == CompressionNone {
		path += ".bz2"
		f, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()
	docs, err := ReadDocuments(bufio.NewReader(f), CompressionForPath(path))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return docs, nil
}
