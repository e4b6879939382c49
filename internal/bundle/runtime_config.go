package bundle

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
)

// runtimeConfigPattern locates the runtime configuration blob that the
// index page embeds as a URI-encoded JSON string.
var runtimeConfigPattern = regexp.MustCompile(`__meteor_runtime_config__ = JSON\.parse\(decodeURIComponent\("([^"]*)"\)\)`)

// RuntimeConfig is the configuration a bundle's index page embeds.
type RuntimeConfig struct {
	// RootURL is the canonical root URL of the server the bundle was built for.
	RootURL string
	// AppID identifies the application.
	AppID string
	// Version is the bundle version the index page advertises, if any.
	Version string
	// DesktopVersion is the host shell version the bundle expects, if any.
	DesktopVersion string
	// Values holds every key of the decoded blob.
	Values map[string]any
}

// HasRootURL reports whether the blob declares a root URL.
func (c *RuntimeConfig) HasRootURL() bool {
	_, ok := c.Values["ROOT_URL"]
	return ok
}

// HasAppID reports whether the blob declares an application id.
func (c *RuntimeConfig) HasAppID() bool {
	_, ok := c.Values["appId"]
	return ok
}

// ParseRuntimeConfig extracts the runtime configuration from index page HTML.
func ParseRuntimeConfig(html []byte) (*RuntimeConfig, error) {
	match := runtimeConfigPattern.FindSubmatch(html)
	if match == nil {
		return nil, fmt.Errorf("no runtime config found in index page")
	}

	decoded, err := url.PathUnescape(string(match[1]))
	if err != nil {
		return nil, fmt.Errorf("decoding runtime config: %w", err)
	}

	values := map[string]any{}
	if err := json.Unmarshal([]byte(decoded), &values); err != nil {
		return nil, fmt.Errorf("parsing runtime config: %w", err)
	}

	return &RuntimeConfig{
		RootURL:        stringValue(values, "ROOT_URL"),
		AppID:          stringValue(values, "appId"),
		Version:        stringValue(values, "autoupdateVersionCordova"),
		DesktopVersion: stringValue(values, "desktopVersion"),
		Values:         values,
	}, nil
}

// EncodeRuntimeConfig renders values as the script line an index page embeds.
func EncodeRuntimeConfig(values map[string]any) (string, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`__meteor_runtime_config__ = JSON.parse(decodeURIComponent("%s"))`, url.PathEscape(string(raw))), nil
}

func loadRuntimeConfig(indexFile string) (*RuntimeConfig, error) {
	html, err := os.ReadFile(indexFile)
	if err != nil {
		return nil, fmt.Errorf("reading index page: %w", err)
	}
	return ParseRuntimeConfig(html)
}

func stringValue(values map[string]any, key string) string {
	if s, ok := values[key].(string); ok {
		return s
	}
	return ""
}
