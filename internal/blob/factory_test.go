package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surveycore/internal/config"
)

func TestOpen_SelectsDriver(t *testing.T) {
	ctx := context.Background()

	mem, err := Open(ctx, config.Definitions{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, mem.Driver())

	fs, err := Open(ctx, config.Definitions{Driver: "FS", FSRoot: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, DriverFilesystem, fs.Driver())

	_, err = Open(ctx, config.Definitions{Driver: "ftp"})
	assert.Error(t, err)

	_, err = Open(ctx, config.Definitions{Driver: "s3"})
	assert.Error(t, err, "bucket is required")
}

func TestReadAllAndPutBytes(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, _, err := ReadAll(ctx, s, "subsets.yaml")
	assert.True(t, IsNotFound(err))

	_, err = PutBytes(ctx, s, "subsets.yaml", []byte("- id: UK\n"))
	require.NoError(t, err)
	b, info, err := ReadAll(ctx, s, "subsets.yaml")
	require.NoError(t, err)
	assert.Equal(t, "- id: UK\n", string(b))
	assert.Equal(t, "application/yaml", info.ContentType)
}
