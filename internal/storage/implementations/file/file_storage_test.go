package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func connectedStorage(t *testing.T, compression bool) (*FileStorage, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "models")
	storage, err := NewFileStorage(&FileStorageConfig{
		BasePath:    dir,
		CreateDirs:  true,
		Compression: compression,
	}, logrus.New())
	require.NoError(t, err)
	require.NoError(t, storage.Connect(context.Background()))
	t.Cleanup(func() { storage.Close() })
	return storage, dir
}

func TestNewFileStorageInvalidConfig(t *testing.T) {
	_, err := NewFileStorage(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FileStorageConfig cannot be nil")

	_, err = NewFileStorage(&FileStorageConfig{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BasePath is required")
}

func TestFileStorageRequiresConnect(t *testing.T) {
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: t.TempDir()}, nil)
	require.NoError(t, err)

	assert.Error(t, storage.Save(context.Background(), "m", []byte("{}")))
	_, err = storage.Load(context.Background(), "m")
	assert.Error(t, err)
	assert.Error(t, storage.Ping(context.Background()))
}

func TestFileStorageConnectMissingDir(t *testing.T) {
	storage, err := NewFileStorage(&FileStorageConfig{BasePath: filepath.Join(t.TempDir(), "absent")}, nil)
	require.NoError(t, err)
	err = storage.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeStorage, errors.GetType(err))
}

func TestFileStorageRoundTrip(t *testing.T) {
	for _, compression := range []bool{false, true} {
		storage, dir := connectedStorage(t, compression)
		ctx := context.Background()
		data := []byte(`{"kind":"ltsf-nlinear"}`)

		require.NoError(t, storage.Save(ctx, "energy/load", data))
		require.NoError(t, storage.Save(ctx, "energy/solar", data))
		require.NoError(t, storage.Save(ctx, "traffic", data))
		require.NoError(t, storage.Ping(ctx))

		loaded, err := storage.Load(ctx, "energy/load")
		require.NoError(t, err)
		assert.Equal(t, data, loaded)

		_, err = os.Stat(filepath.Join(dir, "energy", "load.json"))
		assert.NoError(t, err)

		infos, err := storage.List(ctx, "energy/")
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "energy/load", infos[0].Key)
		assert.Equal(t, "energy/solar", infos[1].Key)

		all, err := storage.List(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		require.NoError(t, storage.Delete(ctx, "traffic"))
		_, err = storage.Load(ctx, "traffic")
		assert.ErrorIs(t, err, errors.ErrModelNotFound)
		assert.ErrorIs(t, storage.Delete(ctx, "traffic"), errors.ErrModelNotFound)

		metrics, err := storage.GetMetrics(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), metrics.WriteOperations)
		assert.Equal(t, int64(1), metrics.ReadOperations)
		assert.Equal(t, int64(1), metrics.DeleteOperations)
	}
}

func TestFileStorageOverwrite(t *testing.T) {
	storage, _ := connectedStorage(t, false)
	ctx := context.Background()

	require.NoError(t, storage.Save(ctx, "m", []byte("first")))
	require.NoError(t, storage.Save(ctx, "m", []byte("second")))
	loaded, err := storage.Load(ctx, "m")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), loaded)
}

func TestFileStorageRejectsEscapingKeys(t *testing.T) {
	storage, _ := connectedStorage(t, false)
	ctx := context.Background()

	assert.Error(t, storage.Save(ctx, "../outside", []byte("x")))
	assert.Error(t, storage.Save(ctx, "", []byte("x")))
	_, err := storage.Load(ctx, "/etc/passwd")
	assert.Error(t, err)
}
