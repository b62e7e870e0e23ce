package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/cuongbtq/news-clipping/internal/worker/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobCursor_RoundTrip(t *testing.T) {
	in := &storage.JobCursor{CreatedAt: time.Date(2025, 3, 1, 10, 0, 0, 123, time.UTC), JobID: "job_0123456789ab"}

	out, err := DecodeJobCursor(EncodeJobCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.JobID, out.JobID)
}

func TestDecodeJobCursor(t *testing.T) {
	c, err := DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, c)

	for _, bad := range []string{"%%%", base64.RawURLEncoding.EncodeToString([]byte("nojob")), base64.RawURLEncoding.EncodeToString([]byte("abc|job"))} {
		_, err := DecodeJobCursor(bad)
		assert.Error(t, err, bad)
	}
}
