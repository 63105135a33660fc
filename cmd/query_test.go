package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/movielake/internal/query"
)

func TestPrintRows(t *testing.T) {
	var buf bytes.Buffer
	printRows(&buf, []string{"movie_key", "title", "year"}, []query.Row{
		{"movie_key": "k1", "title": "the matrix", "year": "1999"},
		{"movie_key": "k2", "title": "heat", "year": "1995"},
	})

	out := buf.String()
	assert.Contains(t, out, "movie_key")
	assert.Contains(t, out, "the matrix")
	assert.Contains(t, out, "1995")

	lines := bytes.Count([]byte(out), []byte("\n"))
	assert.Equal(t, 3, lines, "header plus one line per row")
}

func TestPrintRows_MissingCellsAreBlank(t *testing.T) {
	var buf bytes.Buffer
	printRows(&buf, []string{"movie_key", "title"}, []query.Row{
		{"movie_key": "k1"},
	})
	assert.Contains(t, buf.String(), "k1")
}
