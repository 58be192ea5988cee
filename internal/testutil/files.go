// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFiles creates files (slash-separated path to content) under dir,
// creating parent directories as needed.
func WriteFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		MustMkdirAll(t, filepath.Dir(path), 0o755)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
}

// StreamlitApp returns the files of a minimal Streamlit application.
func StreamlitApp() map[string]string {
	return map[string]string{
		"app.py":           "import streamlit as st\n\nst.title(\"hello\")\n",
		"requirements.txt": "streamlit==1.32.0\npandas==2.2.1\n",
	}
}
