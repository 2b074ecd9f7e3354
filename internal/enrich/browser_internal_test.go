package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserFetcher_KillsChromeWhenConnectFails(t *testing.T) {
	kills := 0
	b := NewBrowserFetcher("", nil)
	b.launch = func() (string, func(), error) {
		return "ws://127.0.0.1:1/devtools/browser/none", func() { kills++ }, nil
	}

	_, err := b.Fetch(context.Background(), "https://example.com/jobs/1")
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Equal(t, 1, kills)
	assert.Nil(t, b.kill)
	assert.Nil(t, b.browser)

	require.NoError(t, b.Close())
	assert.Equal(t, 1, kills, "nothing left to kill on close")
}

func TestBrowserFetcher_LaunchFailure(t *testing.T) {
	b := NewBrowserFetcher("", nil)
	b.launch = func() (string, func(), error) { return "", nil, errors.New("chrome not found") }

	_, err := b.Fetch(context.Background(), "https://example.com/jobs/1")
	require.ErrorIs(t, err, ErrFetchFailed)
	assert.Contains(t, err.Error(), "chrome not found")
	assert.Nil(t, b.kill)
}
