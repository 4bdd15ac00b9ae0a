package upload_test

import (
	"testing"

	"imagelab/internal/upload"

	"github.com/stretchr/testify/require"
)

func TestDeriveName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		original string
		now      int64
		want     string
	}{
		{"cat.png", 1000, "cat_1000.png"},
		{"cat", 1000, "cat_1000"},
		{"cat.tar.gz", 1000, "cat.tar_1000.gz"},
		{"Holiday Photo.JPEG", 1700000000, "Holiday Photo_1700000000.JPEG"},
	}

	for _, tc := range cases {
		require.Equalf(t, tc.want, upload.DeriveName(tc.original, tc.now), "DeriveName(%q, %d)", tc.original, tc.now)
	}
}

func TestDeriveNameIsDeterministic(t *testing.T) {
	t.Parallel()

	// Same input in the same second always yields the same name; see
	// TestStoreSameSecondUploadsCollide for the consequence.
	require.Equal(t, upload.DeriveName("cat.png", 42), upload.DeriveName("cat.png", 42))
	require.NotEqual(t, upload.DeriveName("cat.png", 42), upload.DeriveName("cat.png", 43))
}
