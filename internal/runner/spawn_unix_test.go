//go:build !windows

package runner

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"shiny", "shiny"},
		{"/tmp/app.py", "/tmp/app.py"},
		{"my env", "'my env'"},
		{"it's", `'it'\''s'`},
		{"", "''"},
		{"$(rm -rf /)", "'$(rm -rf /)'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, quote(tt.in), "quote(%q)", tt.in)
	}
}

func TestShellSpawner_ExitCode(t *testing.T) {
	var out bytes.Buffer
	h, err := ShellSpawner{}.Spawn("echo started; exit 3", &out)
	require.NoError(t, err)
	assert.Positive(t, h.PID())

	code, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Equal(t, "started\n", out.String())
}

func TestProcess_RealShell(t *testing.T) {
	p, err := NewProcess(ProcessConfig{Dir: t.TempDir(), Command: "cat {script}; echo oops >&2"}, nil)
	require.NoError(t, err)

	exits := make(chan Exit, 1)
	res := p.Dispatch(context.Background(), Job{
		GenerationID: "g",
		Code:         "print('hello')\n",
		OnExit:       func(e Exit) { exits <- e },
	})
	require.NoError(t, res.Err)

	select {
	case e := <-exits:
		assert.Equal(t, 0, e.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	log, err := os.ReadFile(res.LogPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(log), "print('hello')\n"))
	assert.Contains(t, string(log), "oops", "stderr goes to the same log")
}
