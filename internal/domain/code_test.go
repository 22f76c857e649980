package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLanguageIsExact(t *testing.T) {
	for _, s := range []string{"HTML", "CSS", "JavaScript"} {
		lang, err := ParseLanguage(s)
		require.NoError(t, err)
		assert.Equal(t, Language(s), lang)
	}
	for _, s := range []string{"html", "Javascript", "JS", "Python", ""} {
		_, err := ParseLanguage(s)
		assert.Error(t, err, s)
	}
}

func TestBuffersWithAndGet(t *testing.T) {
	b := Buffers{}.With(CSS, "a{}").With(HTML, "<p></p>")
	assert.Equal(t, "a{}", b.Get(CSS))
	assert.Equal(t, "<p></p>", b.Get(HTML))
	assert.Empty(t, b.Get(JavaScript))
	assert.Empty(t, b.Get(Language("nope")))
}
