package instance

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestOthers_ExcludesSelf never reports the calling process.
func TestOthers_ExcludesSelf(t *testing.T) {
	t.Parallel()

	pids, err := Others(ExecutableName())
	require.NoError(t, err)
	require.NotContains(t, pids, 0)

	pids, err = Others("definitely-not-a-running-binary")
	require.NoError(t, err)
	require.Empty(t, pids)
}

// TestOthers_FindsChild detects a freshly started process by name.
func TestOthers_FindsChild(t *testing.T) {
	t.Parallel()

	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep is not available")
	}

	cmd := exec.Command(path, "5")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	pids, err := Others("sleep")
	require.NoError(t, err)
	require.Contains(t, pids, cmd.Process.Pid)
}

// TestMatches covers truncated names and Windows suffixes.
func TestMatches(t *testing.T) {
	t.Parallel()

	require.True(t, matches("client-launcher", "client-launcher"))
	require.True(t, matches("client-launcher.exe", "client-launcher"))
	require.True(t, matches("client-launcher", "client-launcher-debug"))
	require.False(t, matches("client-packager", "client-launcher"))
}
