package cmd_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// lockedBuffer is a bytes.Buffer safe for a writer and a reader on different
// goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type cmdResult struct {
	out  string
	logs string
	err  error
}

// fixture is a local store root plus a config file pointing at it.
type fixture struct {
	root       string
	configFile string
}

func setup(t *testing.T, extraConfig string) fixture {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "store")
	require.NoError(t, os.MkdirAll(root, 0o750))

	content := fmt.Sprintf("store:\n  type: local\n  root: %q\npoll:\n  schedule: \"@every 1h\"\n%s", root, extraConfig)
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o600))
	return fixture{root: root, configFile: configFile}
}

func (f fixture) writeObject(t *testing.T, container, key string, modified time.Time) {
	t.Helper()
	p := filepath.Join(f.root, container, filepath.FromSlash(key))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(key), 0o600))
	require.NoError(t, os.Chtimes(p, modified, modified))
}

func (f fixture) run(ctx context.Context, cmd *cobra.Command, args ...string) cmdResult {
	var out bytes.Buffer
	logs := &lockedBuffer{}
	root := &cobra.Command{Use: "root"}
	root.AddCommand(cmd)
	root.SetOut(&out)
	root.SetErr(logs)
	root.SetArgs(append(args, "--config", f.configFile))
	err := root.ExecuteContext(ctx)
	return cmdResult{out: out.String(), logs: logs.String(), err: err}
}

func yamlLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}
