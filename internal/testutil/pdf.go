package testutil

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// PDF builds a minimal valid PDF with the given number of empty pages and
// returns its bytes. Offsets in the xref table are computed as the body is
// assembled, so the output parses with strict readers.
func PDF(t *testing.T, pages int) []byte {
	t.Helper()
	if pages < 1 {
		t.Fatalf("pdf needs at least one page, got %d", pages)
	}

	var buf bytes.Buffer
	offsets := make([]int, 0, pages+2)

	write := func(obj string) {
		offsets = append(offsets, buf.Len())
		buf.WriteString(obj)
	}

	buf.WriteString("%PDF-1.4\n")

	kids := ""
	for i := 0; i < pages; i++ {
		if i > 0 {
			kids += " "
		}
		kids += fmt.Sprintf("%d 0 R", i+3)
	}

	write("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	write(fmt.Sprintf(
		"2 0 obj\n<< /Type /Pages /Kids [%s] /Count %d /MediaBox [0 0 612 792] >>\nendobj\n",
		kids, pages))
	for i := 0; i < pages; i++ {
		write(fmt.Sprintf("%d 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n", i+3))
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(offsets)+1, xrefOffset)

	return buf.Bytes()
}

// PDFFile writes a minimal PDF with the given page count into dir and
// returns its path.
func PDFFile(t *testing.T, dir string, pages int) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("test-%dp.pdf", pages))
	if err := os.WriteFile(path, PDF(t, pages), 0o600); err != nil {
		t.Fatalf("failed to write test pdf: %v", err)
	}
	return path
}
