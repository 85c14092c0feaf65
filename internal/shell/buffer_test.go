package shell_test

import (
	"testing"

	"github.com/dantte-lp/bgplab/internal/shell"
)

func TestBufferJoinsWithDelimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		delim string
		lines []string
		want  string
	}{
		{
			name:  "newline delimiter for dockerfile directives",
			delim: "\n",
			lines: []string{"FROM debian:stable", "RUN apt-get update"},
			want:  "FROM debian:stable\nRUN apt-get update",
		},
		{
			name:  "space delimiter for command assembly",
			delim: " ",
			lines: []string{"docker", "run", "--privileged=true"},
			want:  "docker run --privileged=true",
		},
		{
			name:  "empty delimiter defaults to newline",
			delim: "",
			lines: []string{"a", "b"},
			want:  "a\nb",
		},
		{
			name:  "empty buffer renders empty string",
			delim: " ",
			lines: nil,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := shell.NewBuffer(tt.delim)
			b.Add(tt.lines...)

			if got := b.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if got := b.Len(); got != len(tt.lines) {
				t.Errorf("Len() = %d, want %d", got, len(tt.lines))
			}
		})
	}
}

func TestBufferAddfPreservesOrder(t *testing.T) {
	t.Parallel()

	b := shell.NewBuffer(" ")
	b.Add("pipework", "br0")
	b.Addf("-i %s", "eth1")
	b.Addf("%s %s", "r1", "10.0.0.2/24")

	want := "pipework br0 -i eth1 r1 10.0.0.2/24"
	if got := b.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
