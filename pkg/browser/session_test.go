package browser

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireChromium(t *testing.T) string {
	t.Helper()
	bin, ok := launcher.LookPath()
	if !ok {
		t.Skip("no local Chromium found")
	}
	return bin
}

func TestDefaultOptions(t *testing.T) {
	assert.True(t, DefaultOptions().Headless)
}

func TestLaunchAndClose(t *testing.T) {
	bin := requireChromium(t)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s, err := Launch(ctx, Options{Headless: true, Bin: bin})
	require.NoError(t, err)
	require.NotNil(t, s.Page())
	require.NotNil(t, s.Browser())

	info, err := s.Page().Info()
	require.NoError(t, err)
	assert.Equal(t, "about:blank", info.URL)

	require.NoError(t, s.Close())
	// Second close is a no-op and reports the same result.
	assert.NoError(t, s.Close())
}

func TestLaunchBadBinary(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := Launch(ctx, Options{Headless: true, Bin: "/nonexistent/chromium"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to launch browser")
}
