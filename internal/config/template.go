package config

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

type templateEntry struct {
	key     string
	value   any
	comment string
	nested  []templateEntry
}

// DefaultConfigYAML renders the commented default config file written by
// `hcp config init`.
func DefaultConfigYAML() ([]byte, error) {
	d := DefaultConfig()
	doc := []templateEntry{
		{key: "bundle", comment: "Bundled initial version shipped with the host.", nested: []templateEntry{
			{key: "initial", value: "", comment: "Directory of the unpacked initial bundle (program.json, index.html)."},
		}},
		{key: "store", nested: []templateEntry{
			{key: "dir", value: d.Store.Dir, comment: "Downloaded versions live in <dir>/versions/<version>."},
		}},
		{key: "data", nested: []templateEntry{
			{key: "dir", value: d.Data.Dir, comment: "Holds autoupdate.json."},
		}},
		{key: "update", nested: []templateEntry{
			{key: "rootUrl", value: "", comment: "Overrides the ROOT_URL embedded in the served bundle."},
			{key: "ignoreCompatibility", value: false, comment: "Download versions with a different compatibility version."},
		}},
		{key: "startup", nested: []templateEntry{
			{key: "timeout", value: d.Startup.Timeout.String(), comment: "A new version that does not report startup in time is blacklisted."},
		}},
		{key: "download", nested: []templateEntry{
			{key: "concurrency", value: d.Download.Concurrency},
			{key: "timeout", value: d.Download.Timeout.String(), comment: "Per-request timeout."},
		}},
		{key: "server", nested: []templateEntry{
			{key: "addr", value: d.Server.Addr},
		}},
		{key: "log", nested: []templateEntry{
			{key: "timestamps", value: true},
		}},
	}

	root, err := mappingNode(doc)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "hcp configuration\nEvery key can be overridden with HCP_<SECTION>_<KEY>, e.g. HCP_STARTUP_TIMEOUT=30s.",
		Content:     []*yaml.Node{root},
	}); err != nil {
		return nil, fmt.Errorf("rendering default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("rendering default config: %w", err)
	}
	return buf.Bytes(), nil
}

func mappingNode(entries []templateEntry) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: e.key, HeadComment: e.comment}

		var value *yaml.Node
		if e.nested != nil {
			var err error
			if value, err = mappingNode(e.nested); err != nil {
				return nil, err
			}
		} else {
			value = &yaml.Node{}
			if err := value.Encode(e.value); err != nil {
				return nil, fmt.Errorf("encoding %s: %w", e.key, err)
			}
		}
		node.Content = append(node.Content, key, value)
	}
	return node, nil
}
