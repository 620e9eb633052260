package logging

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/cyjseagull/WeDPR-Component/config"
)

func TestInitLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	l, err := InitLog(&config.Log{Level: "warn", Path: dir}, "node.log", true)
	require.NoError(t, err)
	require.Equal(t, logrus.WarnLevel, l.Level)
	require.Equal(t, filepath.Join(dir, "node.log"), l.FilePath)
	require.NotNil(t, l.Format)
	require.NotNil(t, l.Writer)

	l, err = InitLog(&config.Log{Level: "nonsense", Path: dir}, "node.log", false)
	require.NoError(t, err)
	require.Equal(t, DefaultLevel, l.Level)
	require.Nil(t, l.Format)
}

func TestInitLogMissingPath(t *testing.T) {
	_, err := InitLog(&config.Log{Level: "info"}, "node.log", true)
	require.Error(t, err)
}
