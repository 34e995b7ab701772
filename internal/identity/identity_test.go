package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateKeys(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want []string
	}{
		{
			name: "all fields",
			rec:  NewRecord("Juan Pérez", " Juan.Perez@X.com ", "123.456", "M"),
			want: []string{"juan.perez@x.com", "juan perez|123456", "juan perez", "juan perez|123456|m"},
		},
		{
			name: "name only",
			rec:  NewRecord("Ana", "", "", ""),
			want: []string{"ana"},
		},
		{
			name: "email only",
			rec:  NewRecord("", "ana@x.com", "", "F"),
			want: []string{"ana@x.com"},
		},
		{
			name: "gender without document is dropped",
			rec:  NewRecord("Ana", "", "", "F"),
			want: []string{"ana"},
		},
		{
			name: "all empty",
			rec:  NewRecord("  ", "", "n/a", ""),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CandidateKeys(tt.rec))
		})
	}
}

// Every key needs a name or an email; a document or gender alone cannot
// identify a person, so such records get no keys and are never matched.
func TestCandidateKeysNeedNameOrEmail(t *testing.T) {
	assert.Nil(t, CandidateKeys(NewRecord("", "", "1234567", "")), "document only")
	assert.Nil(t, CandidateKeys(NewRecord("", "", "", "F")), "gender only")
	assert.Nil(t, CandidateKeys(NewRecord("", "", "1234567", "M")), "document and gender")
	assert.Equal(t, []string{"ana@x.com"}, CandidateKeys(NewRecord("", "ana@x.com", "1234567", "F")))
}

func TestCandidateKeysNonEmptyAndUnique(t *testing.T) {
	records := []Record{
		NewRecord("x", "", "", ""),
		NewRecord("", "", "99", ""),
		NewRecord("", "", "", "F"),
		NewRecord("Ñandú", "ñandu@x.com", "1", "f"),
		NewRecord("juan perez", "juan perez", "", ""),
	}
	for _, r := range records {
		keys := CandidateKeys(r)
		seen := make(map[string]bool)
		for _, k := range keys {
			require.NotEmpty(t, k)
			assert.False(t, seen[k], "duplicate key %q", k)
			seen[k] = true
		}
		// Records with neither name nor email are pinned to nil above.
		if r.Name != "" || r.Email != "" {
			assert.NotEmpty(t, keys, "record %+v", r)
		}
	}
}

func TestCandidateKeysDeduplicates(t *testing.T) {
	// email equal to the normalized name collapses into one key
	keys := CandidateKeys(Record{Name: "ana", Email: "ANA"})
	assert.Equal(t, []string{"ana"}, keys)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "Juan_Perez", Slugify("Juan Pérez"))
	assert.Equal(t, "Maria_Jose_O_Neil", Slugify("  María José  O'Neil "))
	assert.Equal(t, "juan.perez", Slugify("juan.perez"))
	assert.Equal(t, "a-b_c", Slugify("a-b_c"))
	assert.Equal(t, "Nunez", Slugify("Núñez"))
	assert.Equal(t, "", Slugify("   "))
}

func TestStripDiacritics(t *testing.T) {
	assert.Equal(t, "Jose Nunez", StripDiacritics("José Núñez"))
	assert.Equal(t, "Gonzalez", StripDiacritics("González"))
	assert.Equal(t, "plain", StripDiacritics("plain"))
}

func TestEmailLocal(t *testing.T) {
	assert.Equal(t, "juan.perez", EmailLocal("juan.perez@x.com"))
	assert.Equal(t, "", EmailLocal("no-at-sign"))
	assert.Equal(t, "", EmailLocal(""))
}

func TestNewRecordStripsMailto(t *testing.T) {
	r := NewRecord(" Ana ", "mailto:ana@x.com", "CC 1.234.567", "")
	assert.Equal(t, "Ana", r.Name)
	assert.Equal(t, "ana@x.com", r.Email)
	assert.Equal(t, "1234567", r.Document)
	assert.False(t, r.Empty())
	assert.True(t, NewRecord("", "", "", "").Empty())
}

func TestFirstFound(t *testing.T) {
	var calls []string
	mk := func(name, val string) func(string) Field {
		return func(string) Field {
			calls = append(calls, name)
			if val == "" {
				return NotFound()
			}
			return Found(val)
		}
	}

	f := FirstFound("row", mk("a", ""), mk("b", "  "), mk("c", "hit"), mk("d", "late"))
	assert.True(t, f.Found)
	assert.Equal(t, "hit", f.Value)
	assert.Equal(t, "a,b,c", strings.Join(calls, ","))

	none := FirstFound("row", mk("e", ""))
	assert.False(t, none.Found)
	assert.Equal(t, "fallback", none.Or("fallback"))
}
