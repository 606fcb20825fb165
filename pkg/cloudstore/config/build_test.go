package config

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-cloud/pkg/cloudstore"
)

func TestBuildService(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"memory", nil},
		{"filesystem", []Option{WithFilesystemStorage(t.TempDir())}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(append(tt.opts, WithEventLogging(false))...)
			require.NoError(t, err)

			rt, err := cfg.BuildService(context.Background())
			require.NoError(t, err)
			defer rt.Close()

			ctx := context.Background()
			owner := uuid.New()
			data := []byte("configured")
			obj, err := rt.Service.Ingest(ctx, cloudstore.IngestRequest{
				OwnerID:      owner,
				Name:         "a.txt",
				Reader:       bytes.NewReader(data),
				DeclaredSize: int64(len(data)),
			})
			require.NoError(t, err)

			_, rc, err := rt.Service.Open(ctx, owner, obj.ID)
			require.NoError(t, err)
			defer rc.Close()
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, data, got)
		})
	}
}

func TestBuildServiceLimits(t *testing.T) {
	cfg, err := Load(WithLimits(cloudstore.Limits{MaxObjectBytes: 4, QuotaCeilingBytes: 8, MaxRecipients: 2}))
	require.NoError(t, err)

	rt, err := cfg.BuildService(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8), rt.Service.Ceiling())

	_, err = rt.Service.Ingest(context.Background(), cloudstore.IngestRequest{
		OwnerID:      uuid.New(),
		Name:         "big.bin",
		Reader:       bytes.NewReader([]byte("12345")),
		DeclaredSize: 5,
	})
	assert.ErrorIs(t, err, cloudstore.ErrPayloadTooLarge)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Error(t, cfg.Migrate(context.Background()))
}
