package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/pda-report-collector/internal/identity"
)

const materialRow = `<tr class="mat-row">
  <td class="mat-cell mat-column-person cdk-column-person">
    <div class="avatar">JP</div>
    <span class="font-medium">Juan  Pérez</span>
    <a href="mailto:Juan.Perez@x.com">Juan.Perez@x.com</a>
  </td>
  <td class="mat-cell mat-column-fieldOne cdk-column-fieldOne"> 12.345.678 </td>
  <td class="mat-cell mat-column-gender cdk-column-gender">M</td>
</tr>`

func TestRecordFromMaterialRow(t *testing.T) {
	rec, err := New(DefaultSelectors()).Record(materialRow)
	require.NoError(t, err)
	assert.Equal(t, identity.Record{
		Name:     "Juan Pérez",
		Email:    "Juan.Perez@x.com",
		Document: "12345678",
		Gender:   "M",
	}, rec)
}

func TestEmailFromDataAttribute(t *testing.T) {
	row := `<tr><td class="mat-column-person"><span class="font-medium">Ana</span>
		<a href="mailto:wrong@x.com" data-email="ana@x.com"></a></td></tr>`
	rec, err := New(DefaultSelectors()).Record(row)
	require.NoError(t, err)
	assert.Equal(t, "ana@x.com", rec.Email)
}

func TestEmailFromHrefOnly(t *testing.T) {
	row := `<tr><td class="mat-column-person"><span class="font-medium">Ana</span>
		<a href="mailto:ana@x.com"></a></td></tr>`
	rec, err := New(DefaultSelectors()).Record(row)
	require.NoError(t, err)
	assert.Equal(t, "ana@x.com", rec.Email)
}

func TestFallbacksWithoutCells(t *testing.T) {
	row := `<div role="row" class="table-body-row">
		<div>María José</div>
		<div>Contact: maria.jose@empresa.co</div>
		<div>ID 10203040</div>
	</div>`
	rec, err := New(DefaultSelectors()).Record(row)
	require.NoError(t, err)
	assert.Equal(t, "María José", rec.Name, "first text line is the name fallback")
	assert.Equal(t, "maria.jose@empresa.co", rec.Email)
	assert.Equal(t, "10203040", rec.Document)
	assert.Equal(t, "", rec.Gender)
}

func TestShortDocumentCellFallsBackToText(t *testing.T) {
	row := `<tr><td class="mat-column-person"><span class="font-medium">Ana</span></td>
		<td class="mat-column-fieldOne">123</td><td>ref 9876543</td></tr>`
	rec, err := New(DefaultSelectors()).Record(row)
	require.NoError(t, err)
	assert.Equal(t, "9876543", rec.Document)
}

func TestEmailInHTMLOnly(t *testing.T) {
	row := `<tr><td class="mat-column-person"><span class="font-medium">Ana</span>
		<img alt="avatar" data-owner="ana.b@x.org"></td></tr>`
	rec, err := New(DefaultSelectors()).Record(row)
	require.NoError(t, err)
	assert.Equal(t, "ana.b@x.org", rec.Email)
}

func TestEmptyRow(t *testing.T) {
	rec, err := New(DefaultSelectors()).Record(`<tr></tr>`)
	require.NoError(t, err)
	assert.True(t, rec.Empty())
	assert.Nil(t, identity.CandidateKeys(rec))
}

func TestTextLinesKeepOrder(t *testing.T) {
	row, err := Parse(`<div>A<span>B</span>C<script>var x = 1;</script></div>`)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\nC", row.Text())
}
