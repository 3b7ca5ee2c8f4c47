package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithin(t *testing.T) {
	root := t.TempDir()
	safe := filepath.Join(root, "safe")
	other := filepath.Join(root, "other")
	require.NoError(t, os.MkdirAll(safe, 0o755))
	require.NoError(t, os.MkdirAll(other, 0o755))
	link := filepath.Join(safe, "link")
	require.NoError(t, os.Symlink(other, link))

	tests := []struct {
		name    string
		path    string
		dir     string
		wantErr bool
	}{
		{"direct child", filepath.Join(safe, "capture.jsonl"), safe, false},
		{"missing subdirectory", filepath.Join(safe, "runs", "a", "plot.png"), safe, false},
		{"dir itself", safe, safe, false},
		{"dot dot", filepath.Join(safe, "..", "plot.png"), safe, true},
		{"absolute elsewhere", "/etc/passwd", safe, true},
		{"through symlink", filepath.Join(link, "plot.png"), safe, true},
		{"symlink itself", link, safe, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Within(tt.path, tt.dir)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideAllowed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateOutputPath(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	assert.NoError(t, ValidateOutputPath(filepath.Join(b, "set.json"), a, b))
	err := ValidateOutputPath("/etc/awb.json", a, b)
	require.ErrorIs(t, err, ErrOutsideAllowed)
	assert.Contains(t, err.Error(), a)
}

func TestValidateOutputPathDefaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	assert.NoError(t, ValidateOutputPath("ratio.png"))
	assert.NoError(t, ValidateOutputPath(filepath.Join(os.TempDir(), "capture.jsonl")))
	assert.ErrorIs(t, ValidateOutputPath("/etc/passwd"), ErrOutsideAllowed)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"imx290 lab", "imx290_lab"},
		{"D65/A & F11", "D65_A_F11"},
		{"..hidden..", "hidden"},
		{"set-1.v2", "set-1.v2"},
		{"", "unnamed"},
		{"///", "unnamed"},
		{strings.Repeat("x", 300), strings.Repeat("x", maxFilenameLen)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
}
