package cli

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockFsUtils struct {
	statMap     map[string]os.FileInfo
	readFileMap map[string][]byte
	readFileErr error
	homeDir     string
	homeDirErr  error
	cwd         string
	cwdErr      error
	env         map[string]string
}

func (m *mockFsUtils) Stat(name string) (os.FileInfo, error) {
	if info, ok := m.statMap[name]; ok {
		return info, nil
	}
	return nil, os.ErrNotExist
}
func (m *mockFsUtils) ReadFile(name string) ([]byte, error) {
	if content, ok := m.readFileMap[name]; ok {
		return content, nil
	}
	if m.readFileErr != nil {
		return nil, m.readFileErr
	}
	return nil, os.ErrNotExist
}
func (m *mockFsUtils) UserHomeDir() (string, error) { return m.homeDir, m.homeDirErr }
func (m *mockFsUtils) Getwd() (string, error)       { return m.cwd, m.cwdErr }
func (m *mockFsUtils) Getenv(key string) string     { return m.env[key] }

// captureStdout runs fn with os.Stdout redirected and returns what it printed.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	defer func() { os.Stdout = oldStdout }()

	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()

	fn()
	w.Close()
	return <-outC
}

func TestDoctorNoKey(t *testing.T) {
	mockUtils := &mockFsUtils{
		homeDir: "/home/testuser",
		cwd:     "/home/testuser/project",
		statMap: map[string]os.FileInfo{
			"/home/testuser/project/.git": &mockFileInfo{isDir: true},
		},
	}

	var err error
	out := captureStdout(t, func() {
		err = runDoctorWithUtils("test-version", mockUtils)
	})

	assert.Error(t, err)
	assert.Contains(t, out, "🔍 cruxview doctor vtest-version")
	assert.Contains(t, out, "✓ No global config")
	assert.Contains(t, out, "✓ No project config")
	assert.Contains(t, out, "✗ No CrUX API key configured")
	assert.Contains(t, out, "✓ Endpoint: "+"https://chromeuxreport.googleapis.com/v1/records:queryRecord")
	assert.Contains(t, out, "❌ Found 1 issue(s) that need attention")
}

func TestDoctorAllPass(t *testing.T) {
	projectConfig := filepath.Join("/home/testuser/project", ".cruxview.json")
	mockUtils := &mockFsUtils{
		homeDir: "/home/testuser",
		cwd:     "/home/testuser/project/sub",
		statMap: map[string]os.FileInfo{
			projectConfig: &mockFileInfo{mode: 0644},
		},
		readFileMap: map[string][]byte{
			projectConfig:        []byte(`{"locale": "de-CH", "batch_file": "/data/batch.jsonl"}`),
			"/data/batch.jsonl": []byte(`{"origin":"https://a.com","error":"CrUX API 404: not found"}` + "\n"),
		},
		env: map[string]string{"GOOGLE_API_KEY": "AIzaSyExampleKey42"},
	}

	var err error
	out := captureStdout(t, func() {
		err = runDoctorWithUtils("test-version", mockUtils)
	})

	assert.NoError(t, err)
	assert.Contains(t, out, "✓ Loaded project config: "+projectConfig)
	assert.Contains(t, out, "✓ API key from GOOGLE_API_KEY: AIza…42")
	assert.Contains(t, out, "✓ Locale: de-CH")
	assert.Contains(t, out, "✓ Batch file /data/batch.jsonl: 1 origins")
	assert.Contains(t, out, "✅ All checks passed!")
}

func TestDoctorBadConfig(t *testing.T) {
	globalConfig := filepath.Join("/home/testuser", ".config", "cruxview", "config.json")
	mockUtils := &mockFsUtils{
		homeDir: "/home/testuser",
		cwd:     "/",
		statMap: map[string]os.FileInfo{
			globalConfig: &mockFileInfo{mode: 0644},
		},
		readFileMap: map[string][]byte{
			globalConfig: []byte(`{"api_key": "k", "endpoint": "ftp://example.com", "locale": "!!"`),
		},
	}

	var err error
	out := captureStdout(t, func() {
		err = runDoctorWithUtils("test-version", mockUtils)
	})

	assert.Error(t, err)
	assert.Contains(t, out, "✗ global config is not valid JSON")
	assert.Contains(t, out, "✗ No CrUX API key configured", "a broken config contributes nothing")
}

func TestDoctorChecks(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*doctorState) checkResult
		config Config
		status string
	}{
		{"endpoint bad scheme", checkEndpoint, Config{Endpoint: "ftp://x"}, "fail"},
		{"endpoint custom", checkEndpoint, Config{Endpoint: "http://127.0.0.1:9999/q"}, "warn"},
		{"locale empty", checkLocale, Config{}, "pass"},
		{"locale bad", checkLocale, Config{Locale: "not a tag"}, "fail"},
		{"batch file missing", checkBatchFile, Config{BatchFile: "/nope.jsonl"}, "warn"},
		{"batch file unset", checkBatchFile, Config{}, "pass"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			st := &doctorState{utils: &mockFsUtils{}, config: &cfg}
			assert.Equal(t, tt.status, tt.check(st).Status)
		})
	}
}

func TestDoctorMalformedBatchFile(t *testing.T) {
	st := &doctorState{
		utils: &mockFsUtils{readFileMap: map[string][]byte{
			"/b.jsonl": []byte("{\"origin\":\"https://a.com\"}\nnot json\n"),
		}},
		config: &Config{BatchFile: "/b.jsonl"},
	}
	result := checkBatchFile(st)
	assert.Equal(t, "fail", result.Status)
	assert.Contains(t, result.Suggestion, "line 2")
}

// mockFileInfo implements os.FileInfo for testing purposes
type mockFileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
	isDir   bool
	sys     interface{}
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() os.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() interface{}   { return m.sys }
