package scraper

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-aggregator/utils"
)

func TestBrowserFetcherReportsLaunchFailure(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "no-chrome")
	f := NewBrowserFetcher(missing, 5*time.Second, utils.NewNopLogger())
	defer f.Close()

	_, err := f.Fetch(context.Background(), PageRequest{URL: "https://shop.test/"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "start browser")

	_, again := f.Fetch(context.Background(), PageRequest{URL: "https://shop.test/2"})
	assert.Same(t, err, again, "the browser is launched once and the failure is kept")
}

func TestFindChromeBinaryPrefersExplicitPath(t *testing.T) {
	t.Setenv("CHROME_BIN", "/from/env")
	assert.Equal(t, "/custom/chrome", findChromeBinary("/custom/chrome"))
	assert.Equal(t, "/from/env", findChromeBinary(""))
}
