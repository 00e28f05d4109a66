package filestore

import (
	"archive/zip"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

func TestSaveBiodata_PDF(t *testing.T) {
	root := t.TempDir()
	s := New(root, 1024)

	path, err := s.SaveBiodata("cv.PDF", "application/pdf", bytes.NewReader(pdfBytes))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !strings.HasPrefix(path, "/uploads/biodata/biodata-") || !strings.HasSuffix(path, ".pdf") {
		t.Fatalf("unexpected path %q", path)
	}

	name := filepath.Base(path)
	resolved, err := s.Resolve(BiodataFolder, name)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, err := os.ReadFile(resolved)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, pdfBytes) {
		t.Fatalf("content mismatch")
	}
}

func TestSaveBiodata_Rejections(t *testing.T) {
	s := New(t.TempDir(), 64)

	cases := []struct {
		name     string
		file     string
		declared string
		data     []byte
		want     error
	}{
		{"wrong extension", "cv.exe", "", pdfBytes, ErrUnsupportedType},
		{"image renamed to pdf", "cv.pdf", "", []byte("\x89PNG\r\n\x1a\n0000000000"), ErrUnsupportedType},
		{"too large", "cv.pdf", "", append([]byte("%PDF-"), bytes.Repeat([]byte("a"), 100)...), ErrTooLarge},
		{"empty", "cv.docx", "", nil, ErrEmpty},
		{"declared type mismatch", "cv.pdf", "image/png", pdfBytes, ErrUnsupportedType},
		{"octet-stream declared", "cv.pdf", "application/octet-stream", pdfBytes, ErrUnsupportedType},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.SaveBiodata(tc.file, tc.declared, bytes.NewReader(tc.data))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func wordZip(t *testing.T, names ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write([]byte("<xml/>")); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestSaveBiodata_WordFormats(t *testing.T) {
	s := New(t.TempDir(), 4096)

	docx := wordZip(t, "[Content_Types].xml", "word/document.xml")
	if _, err := s.SaveBiodata("cv.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", bytes.NewReader(docx)); err != nil {
		t.Fatalf("docx: %v", err)
	}
	doc := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, bytes.Repeat([]byte{0}, 30)...)
	if _, err := s.SaveBiodata("cv.doc", "application/msword; charset=binary", bytes.NewReader(doc)); err != nil {
		t.Fatalf("doc: %v", err)
	}
	if _, err := s.SaveBiodata("cv.doc", "", bytes.NewReader(doc)); err != nil {
		t.Fatalf("doc without declared type: %v", err)
	}
}

func TestSaveBiodata_RejectsDisguisedBinaries(t *testing.T) {
	root := t.TempDir()
	s := New(root, 4096)
	elf := append([]byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0}, bytes.Repeat([]byte{0}, 56)...)

	cases := []struct {
		name string
		file string
		data []byte
	}{
		{"elf as doc", "payload.doc", elf},
		{"elf as docx", "payload.docx", elf},
		{"elf as pdf", "payload.pdf", elf},
		{"bare zip header as docx", "payload.docx", append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0}, 30)...)},
		{"plain zip as docx", "payload.docx", wordZip(t, "readme.txt")},
		{"zip without word part", "payload.docx", wordZip(t, "[Content_Types].xml", "xl/workbook.xml")},
		{"pdf renamed to docx", "payload.docx", pdfBytes},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.SaveBiodata(tc.file, "", bytes.NewReader(tc.data)); !errors.Is(err, ErrUnsupportedType) {
				t.Fatalf("expected ErrUnsupportedType, got %v", err)
			}
		})
	}

	entries, err := os.ReadDir(filepath.Join(root, BiodataFolder))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("rejected uploads must not be written, found %d files", len(entries))
	}
}

func TestResolve_RejectsTraversal(t *testing.T) {
	root := t.TempDir()
	s := New(root, 1024)
	if err := os.WriteFile(filepath.Join(root, "secret.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Resolve("..", "secret.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("folder traversal: %v", err)
	}
	if _, err := s.Resolve("private", "secret.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unlisted folder: %v", err)
	}
	for _, name := range []string{"../secret.txt", "..", `..\secret.txt`, ""} {
		if _, err := s.Resolve(BiodataFolder, name); !errors.Is(err, ErrInvalidPath) {
			t.Fatalf("name %q: expected ErrInvalidPath, got %v", name, err)
		}
	}
	if _, err := s.Resolve(BiodataFolder, "missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing file: %v", err)
	}
}
