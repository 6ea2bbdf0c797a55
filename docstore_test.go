package geolocate

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func snapshotDocs() []*Document {
	salience := 2.5
	located := splitDoc("bagel-shop", SplitDev, 40.7, -74.0, "bagel", "bagel", "Manhattan")
	located.BigramCounts = map[Bigram]int{{"bagel", "bagel"}: 1, {"bagel", "Manhattan"}: 1}
	located.Salience = &salience
	return []*Document{
		located,
		{ID: "drifter", TermCounts: map[string]int{"ferry": 3}, Split: SplitTest},
		trainDoc("tube", 51.5, -0.1, "tube"),
	}
}

func TestDocumentSnapshotRoundTrip(t *testing.T) {
	for _, ext := range []string{"", ".zst", ".lz4"} {
		t.Run("ext="+ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "docs.gob"+ext)
			want := snapshotDocs()
			if err := SaveDocuments(path, want); err != nil {
				t.Fatalf("SaveDocuments(%q) failed: %v", path, err)
			}

			got, err := LoadDocuments(path)
			if err != nil {
				t.Fatalf("LoadDocuments(%q) failed: %v", path, err)
			}
			if len(got) != len(want) {
				t.Fatalf("LoadDocuments(%q) returned %d documents, want %d", path, len(got), len(want))
			}
			for i := range want {
				if !reflect.DeepEqual(got[i], want[i]) {
					t.Errorf("document %d = %+v, want %+v", i, got[i], want[i])
				}
			}
			if got[1].Coord != nil {
				t.Errorf("document %q has coordinate %v, want none", got[1].ID, *got[1].Coord)
			}
			if got[0].Salience == nil || *got[0].Salience != 2.5 {
				t.Errorf("document %q salience = %v, want 2.5", got[0].ID, got[0].Salience)
			}
		})
	}
}

func TestCompressionForPath(t *testing.T) {
	tests := map[string]Compression{
		"docs.gob":      CompressionNone,
		"docs.gob.zst":  CompressionZstd,
		"docs.gob.ZSTD": CompressionZstd,
		"docs.gob.lz4":  CompressionLZ4,
		"docs.gob.bz2":  CompressionBzip2,
	}
	for path, want := range tests {
		if got := CompressionForPath(path); got != want {
			t.Errorf("CompressionForPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestWriteBzip2Unsupported(t *testing.T) {
	var buf bytes.Buffer
	err := WriteDocuments(&buf, snapshotDocs(), CompressionBzip2)
	if err == nil || !strings.Contains(err.Error(), "bzip2") {
		t.Errorf("WriteDocuments with bzip2 = %v, want an error naming bzip2", err)
	}
}

func TestReadDocumentsRejectsGarbage(t *testing.T) {
	if _, err := ReadDocuments(bytes.NewReader([]byte("not a snapshot")), CompressionNone); err == nil {
		t.Error("ReadDocuments accepted a plain garbage stream")
	}
	if _, err := ReadDocuments(bytes.NewReader([]byte("not bzip2 either")), CompressionBzip2); err == nil {
		t.Error("ReadDocuments accepted a garbage bzip2 stream")
	}
}

func TestLoadDocumentsMissing(t *testing.T) {
	_, err := LoadDocuments(filepath.Join(t.TempDir(), "absent.gob"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("LoadDocuments of a missing file = %v, want os.ErrNotExist", err)
	}
}
