package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"plain":        {in: `{"a":1}`, want: `{"a":1}`},
		"fenced":       {in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		"bare fence":   {in: "```\n{\"a\":1}\n```", want: `{"a":1}`},
		"with prose":   {in: "Sure! Here you go: {\"a\":{\"b\":2}} Hope it helps.", want: `{"a":{"b":2}}`},
		"leading bom":  {in: "\ufeff{\"a\":1}", want: `{"a":1}`},
		"nested brace": {in: `x {"a":"}"} y`, want: `{"a":"}"}`},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ExtractJSON(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestExtractJSONMissing(t *testing.T) {
	_, err := ExtractJSON("I cannot answer that.")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ExtractJSON("} backwards {")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecodeJSONLooseTypes(t *testing.T) {
	var out struct {
		Score    Number  `json:"score"`
		Quoted   Number  `json:"quoted"`
		Percent  Number  `json:"percent"`
		Missing  Number  `json:"missing"`
		Garbage  Number  `json:"garbage"`
		Tags     Strings `json:"tags"`
		Single   Strings `json:"single"`
		NotAList Strings `json:"not_a_list"`
	}
	text := "```json\n" + `{"score": 150, "quoted": "42", "percent": "80%", "garbage": "lots",
		"tags": ["go", " ", 3, "redis"], "single": "only", "not_a_list": 12}` + "\n```"

	require.NoError(t, DecodeJSON(text, &out))
	assert.Equal(t, 100, out.Score.IntOr(50, 0, 100))
	assert.Equal(t, 42, out.Quoted.IntOr(0, 0, 100))
	assert.Equal(t, 80, out.Percent.IntOr(0, 0, 100))
	assert.False(t, out.Missing.Set)
	assert.Equal(t, 50, out.Missing.IntOr(50, 0, 100))
	assert.False(t, out.Garbage.Set)
	assert.Equal(t, []string{"go", "redis"}, []string(out.Tags))
	assert.Equal(t, []string{"only"}, []string(out.Single))
	assert.Empty(t, out.NotAList)
}

func TestDecodeJSONMalformed(t *testing.T) {
	var out map[string]any
	assert.Error(t, DecodeJSON(`{"a": }`, &out))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1, Clamp(-10, 1, 100))
	assert.Equal(t, 100, Clamp(150, 0, 100))
	assert.Equal(t, 7, Clamp(7, 1, 10))
}
