package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/pkg/models"
)

func collect(t *testing.T, ch <-chan *models.StreamChunk, timeout time.Duration) []*models.StreamChunk {
	t.Helper()
	var out []*models.StreamChunk
	deadline := time.After(timeout)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			t.Fatal("timed out collecting stream chunks")
		}
	}
}

func chunkChan(chunks ...*models.StreamChunk) <-chan *models.StreamChunk {
	ch := make(chan *models.StreamChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestStreamWithRetry_ForwardsSuccessfulAttempt(t *testing.T) {
	gen := func(ctx context.Context) (<-chan *models.StreamChunk, error) {
		return chunkChan(
			&models.StreamChunk{Kind: models.ChunkContent, Delta: "hi"},
			&models.StreamChunk{Kind: models.ChunkDone},
		), nil
	}

	out := collect(t, StreamWithRetry(context.Background(), gen, 2*time.Second), time.Second)
	require.Len(t, out, 2)
	require.Equal(t, models.ChunkContent, out[0].Kind)
	require.Equal(t, models.ChunkDone, out[1].Kind)
}

func TestStreamWithRetry_RetriesEmptyResponse(t *testing.T) {
	attempts := 0
	gen := func(ctx context.Context) (<-chan *models.StreamChunk, error) {
		attempts++
		if attempts == 1 {
			return chunkChan(), nil // closes with no Done: empty response
		}
		return chunkChan(&models.StreamChunk{Kind: models.ChunkDone}), nil
	}

	out := collect(t, StreamWithRetry(context.Background(), gen, 2*time.Second), 10*time.Second)
	require.Equal(t, 2, attempts)
	require.Len(t, out, 1)
	require.Equal(t, models.ChunkDone, out[0].Kind)
}

func TestStreamWithRetry_NonRetriableGeneratorErrorSurfacesImmediately(t *testing.T) {
	attempts := 0
	gen := func(ctx context.Context) (<-chan *models.StreamChunk, error) {
		attempts++
		return nil, errors.New("invalid api key")
	}

	out := collect(t, StreamWithRetry(context.Background(), gen, 2*time.Second), time.Second)
	require.Equal(t, 1, attempts)
	require.Len(t, out, 1)
	require.Equal(t, models.ChunkError, out[0].Kind)
}

func TestStreamWithRetry_DoneAlwaysLast(t *testing.T) {
	gen := func(ctx context.Context) (<-chan *models.StreamChunk, error) {
		return chunkChan(
			&models.StreamChunk{Kind: models.ChunkReasoningStarted},
			&models.StreamChunk{Kind: models.ChunkReasoningDelta, Delta: "thinking"},
			&models.StreamChunk{Kind: models.ChunkContent, Delta: "answer"},
			&models.StreamChunk{Kind: models.ChunkUsage, Usage: &models.UsageInfo{TotalTokens: 10}},
			&models.StreamChunk{Kind: models.ChunkDone},
		), nil
	}

	out := collect(t, StreamWithRetry(context.Background(), gen, 2*time.Second), time.Second)
	require.Equal(t, models.ChunkDone, out[len(out)-1].Kind)
}

func TestIsRetriable(t *testing.T) {
	require.True(t, IsRetriable(ErrEmptyResponse))
	require.True(t, IsRetriable(ErrStreamIdleTimeout))
	require.True(t, IsRetriable(errors.New("connection reset by peer")))
	require.True(t, IsRetriable(errors.New("[RETRIABLE] upstream 503")))
	require.False(t, IsRetriable(errors.New("invalid request: missing model")))
	require.False(t, IsRetriable(nil))
}
