package humastar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"session":"abc","clickx":215292.5,"editing":true}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", s.String("session"))
	assert.Equal(t, 215292.5, s.Float("clickx"))
	assert.False(t, s.Has("clicky"))
	assert.Equal(t, "", s.String("clickx"))

	empty, err := ParseSignals(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseSignals([]byte(`{`))
	assert.Error(t, err)
}

func TestMustParseReturns400(t *testing.T) {
	in := &SignalsInput{RawBody: []byte("not json")}
	_, err := in.MustParse()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid request data")
}

func TestActionLinkHeader(t *testing.T) {
	def := ActionDef{Rel: "relocate", Pattern: "/api/v1/buildings/%s/relocate", Method: "POST", Title: "Move this building"}
	assert.Equal(t,
		`</api/v1/buildings/batiments.3/relocate>; rel="relocate"; method="POST"; title="Move this building"`,
		def.For("batiments.3").LinkHeader())
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	page := Paginate(items, PageInput{Offset: 2, Limit: 2})
	assert.Equal(t, []int{3, 4}, page.Data)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, []string{
		`</x?offset=0&limit=2>; rel="first"`,
		`</x?offset=0&limit=2>; rel="prev"`,
		`</x?offset=4&limit=2>; rel="next"`,
		`</x?offset=4&limit=2>; rel="last"`,
	}, page.PaginationLinks("/x"))

	beyond := Paginate(items, PageInput{Offset: 10, Limit: 2})
	assert.Empty(t, beyond.Data)
	assert.Equal(t, 5, beyond.Offset)

	none := Paginate([]int{}, PageInput{})
	assert.Equal(t, 100, none.Limit)
	assert.Equal(t, []string{
		`</x?offset=0&limit=100>; rel="first"`,
		`</x?offset=0&limit=100>; rel="last"`,
	}, none.PaginationLinks("/x"))
}
