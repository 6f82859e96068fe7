package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
}

func TestRunScriptDir_RunsExecutablesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "order.txt")
	writeScript(t, filepath.Join(dir, "10-second.sh"), "#!/bin/sh\necho b >> "+out+"\n")
	writeScript(t, filepath.Join(dir, "01-first.sh"), "#!/bin/sh\necho a >> "+out+"\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not executable"), 0o644))

	require.NoError(t, RunScriptDir(context.Background(), dir))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(data))
}

func TestRunScriptDir_MissingDirIsNotAnError(t *testing.T) {
	require.NoError(t, RunScriptDir(context.Background(), filepath.Join(t.TempDir(), "absent")))
}

func TestRunModuleScript_SkipsWhenNoScriptPresent(t *testing.T) {
	require.NoError(t, RunModuleScript(context.Background(), t.TempDir(), "post-fs-data"))
}

func TestRunModuleScript_RunsMatchingStageScript(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "ran.txt")
	writeScript(t, filepath.Join(dir, "post-fs-data.sh"), "#!/bin/sh\necho yes > "+out+"\n")

	require.NoError(t, RunModuleScript(context.Background(), dir, "post-fs-data"))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "yes\n", string(data))
}
