package portal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPickPageSize(t *testing.T) {
	assert.Equal(t, "200", pickPageSize([]string{"10", "50", "200"}, 200))
	assert.Equal(t, "100", pickPageSize([]string{"10", "25", "100"}, 200), "falls back to the largest option")
	assert.Equal(t, "", pickPageSize([]string{"All"}, 200))
}

func TestSelectorsMerge(t *testing.T) {
	custom := Selectors{Rows: "//div[@role='row']"}.merge(DefaultSelectors())
	assert.Equal(t, "//div[@role='row']", custom.Rows)
	assert.Equal(t, DefaultSelectors().NextPage, custom.NextPage)
}

func TestQuoteEscapes(t *testing.T) {
	assert.Equal(t, `"//span[normalize-space()='PDA Report']"`, q("//span[normalize-space()='PDA Report']"))
	assert.Equal(t, `"a\"b"`, q(`a"b`))
}
