package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/pda-report-collector/internal/identity"
	"github.com/withObsrvr/pda-report-collector/internal/util"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0644))
}

func TestFileName(t *testing.T) {
	tests := []struct {
		name string
		rec  identity.Record
		want string
	}{
		{
			name: "all signals",
			rec:  identity.NewRecord("Juan Pérez", "Juan.Perez@x.com", "123456", ""),
			want: "ReportePDA_Juan_Perez_Juan.Perez_123456.pdf",
		},
		{
			name: "name only",
			rec:  identity.NewRecord("Juan Pérez", "", "", ""),
			want: "ReportePDA_Juan_Perez.pdf",
		},
		{
			name: "empty name",
			rec:  identity.NewRecord("", "", "42", ""),
			want: "ReportePDA_PDA_Report_42.pdf",
		},
		{
			name: "email without at sign is dropped",
			rec:  identity.NewRecord("Ana", "not-an-email", "", ""),
			want: "ReportePDA_Ana.pdf",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileName(tt.rec))
		})
	}
}

func TestBaseTruncated(t *testing.T) {
	long := strings.Repeat("a", 200)
	assert.Len(t, Base(long), 90)
	assert.Len(t, EmailToken(strings.Repeat("b", 80)+"@x.com"), 50)
	assert.Equal(t, "", NameBase("  "))
}

func TestHasTokenExactSegments(t *testing.T) {
	path := "/shared/ReportePDA_Ana_999111.pdf"
	assert.False(t, HasToken(path, "111"), "a substring of a segment must not match")
	assert.True(t, HasToken(path, "999111"))
	assert.True(t, HasToken(path, "Ana"))
	assert.False(t, HasToken(path, ""))

	withEmail := "/shared/ReportePDA_Juan_Perez_juan.perez_123456.pdf"
	assert.True(t, HasToken(withEmail, "juan.perez"))
	assert.True(t, HasToken(withEmail, "Juan Perez"), "multi-segment tokens match contiguous segments")
	assert.False(t, HasToken(withEmail, "Perez Juan"))
}

func TestMoveUniqueSuffixes(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "ReportePDA_Juan_Perez.pdf"))
	touch(t, filepath.Join(dir, "ReportePDA_Juan_Perez_2.pdf"))

	src := filepath.Join(t.TempDir(), "download.pdf")
	touch(t, src)
	dst, err := MoveUnique(src, dir, "ReportePDA_Juan_Perez.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ReportePDA_Juan_Perez_3.pdf"), dst)
}

func TestMoveUniqueAlreadyPlacedByOtherWorker(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "ReportePDA_Juan.pdf")
	require.NoError(t, os.WriteFile(src, []byte("report"), 0644))
	// The other worker linked the file under the canonical name but has not
	// removed the old name yet.
	canonical := filepath.Join(dir, "ReportePDA_Juan_1234567.pdf")
	require.NoError(t, os.Link(src, canonical))

	dst, err := MoveUnique(src, dir, "ReportePDA_Juan_1234567.pdf")
	require.NoError(t, err)
	assert.Equal(t, canonical, dst)

	names, err := filepath.Glob(filepath.Join(dir, "*.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []string{canonical}, names, "no second copy under a suffixed name")
}

func TestRenameUniqueOntoOwnSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ReportePDA_Ana.pdf"), []byte("first"), 0644))
	second := filepath.Join(dir, "ReportePDA_Ana_2.pdf")
	require.NoError(t, os.WriteFile(second, []byte("second"), 0644))

	got, err := RenameUnique(second, "ReportePDA_Ana.pdf")
	require.NoError(t, err)
	assert.Equal(t, second, got, "the file keeps its own suffixed name")

	data, err := os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestMoveUniqueSourceGone(t *testing.T) {
	dir := t.TempDir()
	canonical := filepath.Join(dir, "ReportePDA_Juan_1234567.pdf")
	require.NoError(t, os.WriteFile(canonical, []byte("report"), 0644))

	_, err := MoveUnique(filepath.Join(dir, "ReportePDA_Juan.pdf"), dir, "ReportePDA_Juan_1234567.pdf")
	assert.ErrorIs(t, err, util.ErrSourceGone)

	data, err := os.ReadFile(canonical)
	require.NoError(t, err)
	assert.Equal(t, "report", string(data))
}

func TestMoveUniqueNeverOverwrites(t *testing.T) {
	staging := t.TempDir()
	shared := t.TempDir()

	existing := filepath.Join(shared, "ReportePDA_Juan_Perez.pdf")
	require.NoError(t, os.WriteFile(existing, []byte("original"), 0644))

	src := filepath.Join(staging, "download.pdf")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0644))

	dst, err := MoveUnique(src, shared, "ReportePDA_Juan_Perez.pdf")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(shared, "ReportePDA_Juan_Perez_2.pdf"), dst)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))

	data, err = os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestRenameUniqueSameName(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ReportePDA_Ana.pdf")
	touch(t, path)

	got, err := RenameUnique(path, "ReportePDA_Ana.pdf")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestIsReport(t *testing.T) {
	assert.True(t, IsReport("ReportePDA_Ana.pdf"))
	assert.True(t, IsReport("ReportePDA_Ana.PDF"))
	assert.False(t, IsReport("Ana.pdf"))
	assert.False(t, IsReport("ReportePDA_Ana.pdf.crdownload"))
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		want Parsed
		ok   bool
	}{
		{"ReportePDA_Juan_Perez_juan.perez_123456.pdf", Parsed{Stem: "Juan_Perez_juan.perez", Document: "123456"}, true},
		{"ReportePDA_Juan_Perez_123456_2.pdf", Parsed{Stem: "Juan_Perez", Document: "123456", Copy: 2}, true},
		{"ReportePDA_Ana_3.pdf", Parsed{Stem: "Ana", Copy: 3}, true},
		{"ReportePDA_Ana.pdf", Parsed{Stem: "Ana"}, true},
		{"ReportePDA_PDA_Report.pdf", Parsed{Stem: "PDA_Report"}, true},
		{"ReportePDA_123456.pdf", Parsed{Stem: "123456"}, true},
		{"other.pdf", Parsed{}, false},
	}
	for _, tt := range tests {
		got, ok := Parse(tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}
