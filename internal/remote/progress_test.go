package remote_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/dvcsync/internal/remote"
)

func TestProgressCountsReads(t *testing.T) {
	var out bytes.Buffer
	p := remote.NewProgress(&out, "ab/cdef", 2048)

	n, err := io.Copy(io.Discard, p.Reader(strings.NewReader(strings.Repeat("x", 2048))))
	require.NoError(t, err)
	assert.Equal(t, int64(2048), n)
	assert.Equal(t, int64(2048), p.Bytes())
	assert.Empty(t, out.String(), "no redraws off a terminal")

	p.Finish()
	assert.Contains(t, out.String(), "ab/cdef")
	assert.Contains(t, out.String(), "2.0 kB / 2.0 kB (100%)")
}

func TestProgressCountsWrites(t *testing.T) {
	var out, sink bytes.Buffer
	p := remote.NewProgress(&out, "obj", 0)

	_, err := p.Writer(&sink).Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), p.Bytes())

	p.Finish()
	assert.Contains(t, out.String(), "5 B")
}
