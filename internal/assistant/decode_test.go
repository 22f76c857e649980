package assistant

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/vade/internal/domain"
)

func TestDecodeAccepts(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ParsedResponse
	}{
		{
			name: "explanation only",
			raw:  `{"explanation":"Hi there"}`,
			want: ParsedResponse{Explanation: "Hi there"},
		},
		{
			name: "null updates",
			raw:  `{"updates":null,"explanation":"ok"}`,
			want: ParsedResponse{Explanation: "ok"},
		},
		{
			name: "empty updates and explanation",
			raw:  `{"updates":[],"explanation":""}`,
			want: ParsedResponse{Updates: []domain.CodeUpdate{}, Explanation: ""},
		},
		{
			name: "surrounding whitespace",
			raw:  "\n\t {\"explanation\":\"x\"}  \n",
			want: ParsedResponse{Explanation: "x"},
		},
		{
			name: "updates in order with empty content",
			raw:  `{"updates":[{"language":"CSS","content":""},{"language":"JavaScript","content":"a()"}],"explanation":"Cleared."}`,
			want: ParsedResponse{
				Updates: []domain.CodeUpdate{
					{Language: domain.CSS, Content: ""},
					{Language: domain.JavaScript, Content: "a()"},
				},
				Explanation: "Cleared.",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "prose", raw: "Sure! Here is your code."},
		{name: "empty", raw: "   "},
		{name: "array", raw: `[{"explanation":"x"}]`},
		{name: "null", raw: `null`},
		{name: "truncated", raw: `{"explanation":"x"`},
		{name: "missing explanation", raw: `{"updates":[]}`},
		{name: "null explanation", raw: `{"explanation":null}`},
		{name: "numeric explanation", raw: `{"explanation":5}`},
		{name: "updates not array", raw: `{"updates":"HTML","explanation":"x"}`},
		{name: "unknown language", raw: `{"updates":[{"language":"Python","content":"print()"}],"explanation":"x"}`},
		{name: "lowercase language", raw: `{"updates":[{"language":"html","content":""}],"explanation":"x"}`},
		{name: "missing content", raw: `{"updates":[{"language":"HTML"}],"explanation":"x"}`},
		{name: "missing language", raw: `{"updates":[{"content":"x"}],"explanation":"x"}`},
		{name: "null update", raw: `{"updates":[null],"explanation":"x"}`},
		{name: "unknown field", raw: `{"explanation":"x","mood":"happy"}`},
		{name: "unknown update field", raw: `{"updates":[{"language":"CSS","content":"","path":"a.css"}],"explanation":"x"}`},
		{name: "trailing data", raw: `{"explanation":"x"}{"explanation":"y"}`},
		{name: "markdown fence", raw: "```json\n{\"explanation\":\"x\"}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.raw)
			require.Error(t, err)

			var ce *ContractError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.raw, ce.Raw)
			assert.True(t, IsContract(err))
			assert.False(t, IsTransport(err))
		})
	}
}

func TestResponseSchemaShape(t *testing.T) {
	s := ResponseSchema()
	require.NotNil(t, s)
	assert.Equal(t, "object", s.Type)
	assert.Equal(t, []string{"explanation"}, s.Required)

	updates, ok := s.Properties.Get("updates")
	require.True(t, ok)
	assert.Equal(t, "array", updates.Type)
	require.NotNil(t, updates.Items)
	assert.ElementsMatch(t, []string{"language", "content"}, updates.Items.Required)

	lang, ok := updates.Items.Properties.Get("language")
	require.True(t, ok)
	assert.Equal(t, []any{"HTML", "CSS", "JavaScript"}, lang.Enum)
}

func TestGeminiSchemaMirrorsContract(t *testing.T) {
	s := geminiSchema()
	assert.Equal(t, []string{"explanation"}, s.Required)
	assert.Equal(t, []string{"HTML", "CSS", "JavaScript"}, s.Properties["updates"].Items.Properties["language"].Enum)
}
