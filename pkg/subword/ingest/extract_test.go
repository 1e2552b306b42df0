package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/subword/pkg/subword/internalerr"
)

func TestExtractText(t *testing.T) {
	text := "the cat  sat\n\n   \nthe\tmat\r\nthe"
	counts, err := Extract(context.Background(), strings.NewReader(text), "t", ModeText)
	require.NoError(t, err)

	assert.Equal(t, int64(3), counts.Get("the"))
	assert.Equal(t, int64(1), counts.Get("mat"))
	assert.Equal(t, 4, counts.Len())
	assert.Equal(t, int64(6), counts.Total())
	assert.Equal(t, int64(0), counts.Get(""), "whitespace-only lines contribute nothing")
}

func TestExtractDict(t *testing.T) {
	text := "low 5\nlowest 2\nlow 1\n"
	counts, err := Extract(context.Background(), strings.NewReader(text), "d", ModeDict)
	require.NoError(t, err)

	assert.Equal(t, int64(6), counts.Get("low"))
	assert.Equal(t, int64(2), counts.Get("lowest"))
}

func TestExtractDictMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
		raw  string
	}{
		{name: "one field", text: "low 5\nlowest\n", line: 1, raw: "lowest"},
		{name: "three fields", text: "a 1 2\n", line: 0, raw: "a 1 2"},
		{name: "non integer", text: "a 1\nb 2\nc x\n", line: 2, raw: "c x"},
		{name: "blank line", text: "a 1\n\nb 2\n", line: 1, raw: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(context.Background(), strings.NewReader(tt.text), "corpus.dict", ModeDict)
			require.Error(t, err)
			assert.ErrorIs(t, err, internalerr.ErrMalformedInput)

			var malformed *internalerr.MalformedInputError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, tt.line, malformed.Line)
			assert.Equal(t, tt.raw, malformed.Raw)
			assert.Equal(t, "corpus.dict", malformed.Source)
		})
	}
}

func TestExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Extract(ctx, strings.NewReader("a b c"), "t", ModeText)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEachLineNoTrailingNewline(t *testing.T) {
	var lines []string
	err := EachLine(context.Background(), strings.NewReader("a\r\nb\nc"), func(_ int, line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}

func TestFileCorpusReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.txt")
	require.NoError(t, os.WriteFile(path, []byte("x y x\n"), 0o644))

	c := FileCorpus(path)
	assert.Equal(t, path, c.Name())

	for i := 0; i < 2; i++ {
		counts, err := ExtractCorpus(context.Background(), c, ModeText)
		require.NoError(t, err)
		assert.Equal(t, int64(2), counts.Get("x"))
	}
}

func TestExtractCorpusMissingFile(t *testing.T) {
	_, err := ExtractCorpus(context.Background(), FileCorpus("/nonexistent/corpus.txt"), ModeText)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "dict", ModeDict.String())
	assert.Equal(t, "text", ModeText.String())
}
