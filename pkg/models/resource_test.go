package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadTask_NeedsDownload(t *testing.T) {
	tests := []struct {
		name     string
		local    int64
		remote   int64
		expected bool
	}{
		{
			name:     "never downloaded",
			local:    0,
			remote:   100,
			expected: true,
		},
		{
			name:     "local behind remote",
			local:    99,
			remote:   100,
			expected: true,
		},
		{
			name:     "up to date",
			local:    100,
			remote:   100,
			expected: false,
		},
		{
			name:     "local ahead of remote",
			local:    101,
			remote:   100,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := DownloadTask{LocalVersion: tt.local, RemoteVersion: tt.remote}
			require.Equal(t, tt.expected, task.NeedsDownload())
		})
	}
}

func TestDownloadTask_IsDependency(t *testing.T) {
	require.False(t, DownloadTask{ResourceID: 153}.IsDependency())
	require.True(t, DownloadTask{ResourceID: 153, ParentResourceID: 151}.IsDependency())
}
