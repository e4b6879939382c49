package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oerrors "github.com/opmodel/hcp/internal/errors"
)

const appJSHash = "abcdefabcdefabcdefabcdefabcdefabcdefabcd"

func TestParse(t *testing.T) {
	t.Run("parses the canonical single-asset manifest", func(t *testing.T) {
		data := []byte(`{"version":"v2","cordovaCompatibilityVersions":{"android":"1"},"manifest":[` +
			`{"path":"app.js","url":"/app.js","type":"js","size":10,"cacheable":true,"hash":"` + appJSHash + `","where":"client"}]}`)

		m, err := Parse(data)
		require.NoError(t, err)

		assert.Equal(t, FormatWebProgramPre1, m.Format, "absent format defaults to the known tag")
		assert.Equal(t, "v2", m.Version)
		assert.Equal(t, "1", m.CompatibilityVersion)
		require.Len(t, m.Entries, 1)

		e := m.Entries[0]
		assert.Equal(t, "app.js", e.FilePath)
		assert.Equal(t, "/app.js", e.URLPath)
		assert.Equal(t, "js", e.FileType)
		assert.Equal(t, int64(10), e.Size)
		assert.True(t, e.Cacheable)
		assert.Equal(t, appJSHash, e.Hash)
		assert.False(t, e.HasSourceMap())
	})

	t.Run("keeps only client entries in order", func(t *testing.T) {
		data := []byte(`{"format":"web-program-pre1","version":"v3","cordovaCompatibilityVersions":{"android":"7","ios":"8"},"manifest":[
			{"path":"a.js","url":"/a.js","type":"js","where":"client"},
			{"path":"server/boot.js","type":"js","where":"internal"},
			{"path":"b.css","url":"/b.css","type":"css","where":"client","sourceMap":"b.css.map","sourceMapUrl":"/b.css.map"},
			{"path":"c.js","type":"js"}
		]}`)

		m, err := Parse(data)
		require.NoError(t, err)
		require.Len(t, m.Entries, 2)
		assert.Equal(t, "/a.js", m.Entries[0].URLPath)
		assert.Equal(t, "/b.css", m.Entries[1].URLPath)
		assert.Equal(t, "7", m.CompatibilityVersion)
		assert.True(t, m.Entries[1].HasSourceMap())
		assert.Equal(t, "b.css.map", m.Entries[1].SourceMapFilePath)
		assert.Equal(t, "/b.css.map", m.Entries[1].SourceMapURLPath)
	})

	t.Run("null hash yields empty hash", func(t *testing.T) {
		data := []byte(`{"version":"v1","cordovaCompatibilityVersions":{"android":"1"},"manifest":[
			{"path":"x","url":"/x","type":"asset","hash":null,"where":"client"}]}`)
		m, err := Parse(data)
		require.NoError(t, err)
		assert.Empty(t, m.Entries[0].Hash)
	})

	t.Run("empty entry list is valid", func(t *testing.T) {
		m, err := Parse([]byte(`{"version":"v1","cordovaCompatibilityVersions":{"android":"1"},"manifest":[]}`))
		require.NoError(t, err)
		assert.Empty(t, m.Entries)
	})
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantMsg string
	}{
		{
			name:    "invalid JSON",
			data:    `{"version":`,
			wantMsg: "invalid JSON",
		},
		{
			name:    "unsupported format",
			data:    `{"format":"web-program-pre2","version":"v1","cordovaCompatibilityVersions":{"android":"1"}}`,
			wantMsg: "format is incompatible",
		},
		{
			name:    "missing version",
			data:    `{"cordovaCompatibilityVersions":{"android":"1"},"manifest":[]}`,
			wantMsg: "does not have a version",
		},
		{
			name:    "empty version",
			data:    `{"version":"","cordovaCompatibilityVersions":{"android":"1"}}`,
			wantMsg: "does not have a version",
		},
		{
			name:    "missing compatibility versions",
			data:    `{"version":"v1","manifest":[]}`,
			wantMsg: "cordovaCompatibilityVersion",
		},
		{
			name:    "compatibility versions without android",
			data:    `{"version":"v1","cordovaCompatibilityVersions":{"ios":"1"}}`,
			wantMsg: "cordovaCompatibilityVersion",
		},
		{
			name: "asset path escaping the bundle",
			data: `{"version":"v1","cordovaCompatibilityVersions":{"android":"1"},"manifest":[
				{"path":"../../../escaped.js","url":"/escaped.js","type":"js","where":"client"}]}`,
			wantMsg: "outside the bundle",
		},
		{
			name: "absolute asset path",
			data: `{"version":"v1","cordovaCompatibilityVersions":{"android":"1"},"manifest":[
				{"path":"/etc/passwd","url":"/passwd","type":"asset","where":"client"}]}`,
			wantMsg: "outside the bundle",
		},
		{
			name: "empty asset path",
			data: `{"version":"v1","cordovaCompatibilityVersions":{"android":"1"},"manifest":[
				{"path":"","url":"/","type":"asset","where":"client"}]}`,
			wantMsg: "outside the bundle",
		},
		{
			name: "source map escaping the bundle",
			data: `{"version":"v1","cordovaCompatibilityVersions":{"android":"1"},"manifest":[
				{"path":"a.js","url":"/a.js","type":"js","where":"client","sourceMap":"../a.js.map","sourceMapUrl":"/a.js.map"}]}`,
			wantMsg: "outside the bundle",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Nil(t, m, "no partial manifest on failure")
			assert.True(t, errors.Is(err, oerrors.ErrManifest))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
