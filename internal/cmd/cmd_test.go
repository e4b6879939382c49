package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opmodel/hcp/internal/manager"
	"github.com/opmodel/hcp/internal/testutil"
)

const (
	testAppID   = "app-1"
	testRootURL = "https://app.example.com"
)

var (
	libFile = testutil.File{Path: "lib.js", Content: "shared", Cacheable: true}
	appV1   = testutil.File{Path: "app.js", Content: "one", Cacheable: true}
	appV2   = testutil.File{Path: "app.js", Content: "two", Cacheable: true}
	appV3   = testutil.File{Path: "app.js", Content: "three", Cacheable: true}
)

func fixture(version string, app testutil.File) testutil.Fixture {
	return testutil.Fixture{Version: version, AppID: testAppID, RootURL: testRootURL, Files: []testutil.File{app, libFile}}
}

// testEnv is an initial bundle, an empty store and a fake update server,
// wired together through a config file named by HCP_CONFIG.
type testEnv struct {
	initialDir string
	store      string
	data       string
	configFile string
	srv        *testutil.Server
	opened     bool
}

func newTestEnv(t *testing.T, remote testutil.Fixture) *testEnv {
	t.Helper()
	e := &testEnv{
		initialDir: fixture("v1", appV1).Write(t, t.TempDir()),
		store:      t.TempDir(),
		data:       t.TempDir(),
		srv:        testutil.NewServer(t, remote),
	}
	e.configFile = filepath.Join(t.TempDir(), "config.yaml")
	e.writeConfig(t, fmt.Sprintf(`bundle:
  initial: %s
store:
  dir: %s
data:
  dir: %s
update:
  rootUrl: %s
log:
  timestamps: false
`, e.initialDir, e.store, e.data, e.srv.URL))
	t.Setenv("HCP_CONFIG", e.configFile)
	return e
}

func (e *testEnv) writeConfig(t *testing.T, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(e.configFile, []byte(content), 0o644))
}

// seedVersion places f in the store as if it had been downloaded. The first
// run against a new initial version clears the store, so the env is opened
// once before seeding.
func (e *testEnv) seedVersion(t *testing.T, f testutil.Fixture) string {
	t.Helper()
	if !e.opened {
		_, err := execute(t, "status")
		require.NoError(t, err)
		e.opened = true
	}
	return f.Write(t, filepath.Join(e.store, manager.VersionsDirName, f.Version))
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		loadedConfig = nil
		configPath = ""
	})

	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func decodeJSON(t *testing.T, out string, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), v), "output: %s", out)
}
