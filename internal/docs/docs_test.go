package docs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePages(t *testing.T, pages ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "book.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(pages, "\f")), 0o644))
	return path
}

func TestExtractor_PageCount(t *testing.T) {
	path := writePages(t, "one", "two", "three")
	n, err := NewExtractor().PageCount(path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestExtractor_ExtractPages(t *testing.T) {
	path := writePages(t, "one", "  ", "three", "four")
	x := NewExtractor()

	text, err := x.ExtractPages(path, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, "[Page 1]\none\n\n[Page 3]\nthree", text)

	all, err := x.ExtractPages(path, 0, 0)
	require.NoError(t, err)
	assert.Contains(t, all, "[Page 4]\nfour")

	clamped, err := x.ExtractPages(path, -5, 99)
	require.NoError(t, err)
	assert.Equal(t, all, clamped)
}

func TestExtractor_ExtractRanges(t *testing.T) {
	path := writePages(t, "p1", "p2", "p3", "p4", "p5")
	text, err := NewExtractor().ExtractRanges(path, []PageRange{
		{Start: 2, End: 3},
		{Start: 5, End: 40},
	})
	require.NoError(t, err)
	assert.Equal(t, "[Page 2]\np2\n\n[Page 3]\np3\n\n[Page 5]\np5", text)
}

func TestExtractor_MissingFile(t *testing.T) {
	_, err := NewExtractor().PageCount(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestExtractor_InvalidPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf file"), 0o644))
	_, err := NewExtractor().PageCount(path)
	assert.Error(t, err)
}

func TestExtractAll(t *testing.T) {
	a := writePages(t, "alpha")
	missing := filepath.Join(t.TempDir(), "missing.txt")

	text, errs := ExtractAll(NewExtractor(), []string{a, missing})
	assert.Contains(t, text, "=== book.txt ===")
	assert.Contains(t, text, "alpha")
	assert.Len(t, errs, 1)
}

func TestStorage_SaveAndList(t *testing.T) {
	s := NewStorage(t.TempDir())

	path, n, err := s.Save("sess", "c1", "syllabus", "../../etc/syllabus.pdf", strings.NewReader("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, filepath.Join(s.Root, "sess", "c1", "syllabus", "syllabus.pdf"), path)

	_, _, err = s.Save("sess", "c1", "syllabus", "b.txt", strings.NewReader("x"))
	require.NoError(t, err)

	files, err := s.List("sess", "c1", "syllabus")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(s.Root, "sess", "c1", "syllabus", "b.txt"),
		filepath.Join(s.Root, "sess", "c1", "syllabus", "syllabus.pdf"),
	}, files)
}

func TestStorage_ListMissingDir(t *testing.T) {
	s := NewStorage(t.TempDir())
	files, err := s.List("sess", "c1", "textbook")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestStorage_RejectsTraversal(t *testing.T) {
	s := NewStorage(t.TempDir())
	_, _, err := s.Save("..", "c1", "syllabus", "a.pdf", strings.NewReader(""))
	assert.Error(t, err)
	_, _, err = s.Save("sess", "a/b", "syllabus", "a.pdf", strings.NewReader(""))
	assert.Error(t, err)
	_, err = s.Dir("sess", "c1", "")
	assert.Error(t, err)
}

func TestStorage_RemoveSession(t *testing.T) {
	s := NewStorage(t.TempDir())
	_, _, err := s.Save("sess", "c1", "syllabus", "a.txt", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, s.RemoveSession("sess"))
	_, err = os.Stat(filepath.Join(s.Root, "sess"))
	assert.True(t, os.IsNotExist(err))
}
