package eventstream

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, input string) []frame {
	t.Helper()

	r := newFrameReader(strings.NewReader(input), defaultMaxLineSize)
	var frames []frame
	for {
		f, err := r.next()
		if err == io.EOF {
			return frames
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
}

func TestFrameReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []frame
	}{
		{
			name:  "single data frame",
			input: "data: {\"id\":\"e1\"}\n\n",
			want:  []frame{{data: []byte(`{"id":"e1"}`)}},
		},
		{
			name:  "heartbeat comment",
			input: ": heartbeat\n\n",
			want:  []frame{{comment: true, data: []byte("heartbeat")}},
		},
		{
			name:  "multi line data joined with newline",
			input: "data: a\ndata: b\n\n",
			want:  []frame{{data: []byte("a\nb")}},
		},
		{
			name:  "crlf line endings",
			input: "data: x\r\n\r\n",
			want:  []frame{{data: []byte("x")}},
		},
		{
			name:  "other fields ignored",
			input: "event: update\nid: 7\nretry: 100\ndata: y\n\n",
			want:  []frame{{data: []byte("y")}},
		},
		{
			name:  "no space after colon",
			input: "data:z\n\n",
			want:  []frame{{data: []byte("z")}},
		},
		{
			name:  "unterminated data discarded",
			input: "data: first\n\ndata: partial\n",
			want:  []frame{{data: []byte("first")}},
		},
		{
			name:  "blank lines without data skipped",
			input: "\n\n\ndata: q\n\n",
			want:  []frame{{data: []byte("q")}},
		},
		{
			name:  "interleaved",
			input: "data: 1\n\n: heartbeat\n\ndata: 2\n\n",
			want:  []frame{{data: []byte("1")}, {comment: true, data: []byte("heartbeat")}, {data: []byte("2")}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readAll(t, tt.input))
		})
	}
}

func TestFrameReader_LineTooLong(t *testing.T) {
	input := "data: ok\n\n" + "data: " + strings.Repeat("x", 64) + "\n\n"
	r := newFrameReader(strings.NewReader(input), 32)

	f, err := r.next()
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), f.data)

	_, err = r.next()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
