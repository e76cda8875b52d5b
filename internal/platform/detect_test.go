package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultModelDirForLinuxWithXDG(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("linux", "/home/dev", "/tmp/xdg-data")
	require.NoError(t, err)
	require.Equal(t, "/tmp/xdg-data/whisperd/models", dir)
}

func TestDefaultModelDirForLinuxWithoutXDG(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("linux", "/home/dev", "")
	require.NoError(t, err)
	require.Equal(t, "/home/dev/.local/share/whisperd/models", dir)
}

func TestDefaultModelDirForMacOS(t *testing.T) {
	t.Parallel()

	dir, err := DefaultModelDirFor("darwin", "/Users/dev", "")
	require.NoError(t, err)
	require.Equal(t, "/Users/dev/Library/Application Support/whisperd/models", dir)
}

func TestDefaultModelDirForUnsupportedOS(t *testing.T) {
	t.Parallel()

	_, err := DefaultModelDirFor("windows", "/Users/dev", "")
	require.Error(t, err)
}

func TestDefaultConfigFileFor(t *testing.T) {
	t.Parallel()

	path, err := DefaultConfigFileFor("linux", "/home/dev", "")
	require.NoError(t, err)
	require.Equal(t, "/home/dev/.config/whisperd/config.yaml", path)

	path, err = DefaultConfigFileFor("linux", "/home/dev", "/etc/xdg")
	require.NoError(t, err)
	require.Equal(t, "/etc/xdg/whisperd/config.yaml", path)

	_, err = DefaultConfigFileFor("linux", "", "")
	require.Error(t, err)
}

func TestResolveStagingDir(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/srv/staging", ResolveStagingDir("/srv/staging/"))
	require.Equal(t, "/tmp/whisperd", DefaultStagingDirFor("/tmp"))
}
