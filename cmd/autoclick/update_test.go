package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewer(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		local  string
		want   bool
	}{
		{"dev always updates", "v1.0.0", "dev", true},
		{"git-describe suffix always updates", "v1.0.0", "v1.0.0-3-gabcdef", true},
		{"newer patch", "v1.0.1", "v1.0.0", true},
		{"newer minor", "v1.1.0", "v1.0.9", true},
		{"newer major", "v2.0.0", "v1.9.9", true},
		{"same version", "v1.0.0", "v1.0.0", false},
		{"older remote", "v1.0.0", "v1.0.1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNewer(tt.remote, tt.local))
		})
	}
}

func TestCompareSemver(t *testing.T) {
	assert.Equal(t, 0, compareSemver("v1.2.3", "1.2.3"))
	assert.Equal(t, 1, compareSemver("v1.2.4", "v1.2.3"))
	assert.Equal(t, -1, compareSemver("v1.2.3", "v1.3.0"))
	assert.Equal(t, 1, compareSemver("v10.0.0", "v9.9.9"))
}

func TestSemverParts(t *testing.T) {
	assert.Equal(t, [3]int{1, 2, 3}, semverParts("v1.2.3"))
	assert.Equal(t, [3]int{1, 2, 0}, semverParts("1.2"))
	assert.Equal(t, [3]int{1, 2, 3}, semverParts("v1.2.3-rc1"))
}

func TestFindAsset(t *testing.T) {
	name, err := autoclickAssetName()
	require.NoError(t, err)

	release := &githubRelease{
		TagName: "v1.0.0",
		Assets: []githubAsset{
			{Name: "checksums.txt", BrowserDownloadURL: "https://example.com/checksums"},
			{Name: name, BrowserDownloadURL: "https://example.com/bin"},
		},
	}

	asset := findAsset(release)
	require.NotNil(t, asset)
	assert.Equal(t, name, asset.Name)
}

func TestFindAsset_Missing(t *testing.T) {
	release := &githubRelease{
		TagName: "v1.0.0",
		Assets:  []githubAsset{{Name: "autoclick_Windows_x86_64.zip"}},
	}
	assert.Nil(t, findAsset(release))
}

func TestFindChecksumAsset(t *testing.T) {
	release := &githubRelease{
		TagName: "v1.0.0",
		Assets: []githubAsset{
			{Name: "autoclick_Darwin_arm64.tar.gz", BrowserDownloadURL: "https://example.com/a"},
			{Name: "checksums.txt", BrowserDownloadURL: "https://example.com/checksums"},
			{Name: "autoclick_Linux_x86_64.tar.gz", BrowserDownloadURL: "https://example.com/b"},
		},
	}

	asset := findChecksumAsset(release)
	require.NotNil(t, asset)
	assert.Equal(t, "checksums.txt", asset.Name)
	assert.Equal(t, "https://example.com/checksums", asset.BrowserDownloadURL)
}

func TestFindChecksumAsset_Missing(t *testing.T) {
	release := &githubRelease{
		TagName: "v0.9.0",
		Assets: []githubAsset{
			{Name: "autoclick_Darwin_arm64.tar.gz"},
		},
	}

	assert.Nil(t, findChecksumAsset(release))
}
