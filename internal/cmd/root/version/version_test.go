package version

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/carl-labs/carl/internal/build"
	"github.com/carl-labs/carl/internal/cmd"
	"github.com/carl-labs/carl/internal/config"
	"github.com/carl-labs/carl/internal/iostreams"
	"github.com/stretchr/testify/require"
)

func testHelper(t *testing.T, info *build.Info) (cmd.Helper, *bytes.Buffer) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := config.GetConfig(path, path)
	require.NoError(t, err)

	streams, _, out, _ := iostreams.NewTestIOStreams()

	command := NewVersionCmd()
	ctx := context.WithValue(context.Background(), config.ConfigKey, cfg)
	ctx = context.WithValue(ctx, iostreams.StreamsKey, &streams)
	ctx = context.WithValue(ctx, build.InfoKey, info)
	command.SetContext(ctx)

	return cmd.BuildHelper(command, nil), out
}

func TestVersionPrintsVersion(t *testing.T) {
	helper, out := testHelper(t, &build.Info{Version: "1.2.3", Commit: "abc1234"})

	require.NoError(t, run(helper))
	require.Equal(t, "1.2.3\n", out.String())
}

func TestVersionShowCommit(t *testing.T) {
	helper, out := testHelper(t, &build.Info{Version: "1.2.3", Commit: "abc1234"})

	cfg, err := helper.GetConfig()
	require.NoError(t, err)
	cfg.Set(ShowCommitConfigPath, true)

	require.NoError(t, run(helper))
	require.Equal(t, "1.2.3 (abc1234)\n", out.String())
}
