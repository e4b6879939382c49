package download

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/opmodel/hcp/internal/bundle"
	oerrors "github.com/opmodel/hcp/internal/errors"
)

// etagHashPattern extracts a SHA1 content hash from a quoted (possibly weak)
// ETag.
var etagHashPattern = regexp.MustCompile(`"([0-9a-fA-F]{40})"`)

const localhost = "localhost"

// verifyHash compares the response ETag with the manifest hash. A missing or
// non-SHA1 ETag skips the check.
func (d *Downloader) verifyHash(a *bundle.Asset, etag string) error {
	if a.Hash == "" {
		return nil
	}

	match := etagHashPattern.FindStringSubmatch(etag)
	if match == nil {
		d.log.Warn("no SHA1 ETag, skipping hash verification", "asset", a.FilePath, "etag", etag)
		return nil
	}

	if !strings.EqualFold(match[1], a.Hash) {
		return fmt.Errorf("%w: hash mismatch for asset: %s, expected: %s, actual: %s",
			oerrors.ErrVerification, a.FilePath, a.Hash, match[1])
	}
	return nil
}

// verifyRuntimeConfig checks the freshly written index page against the
// bundle version and the running application's identity.
func (d *Downloader) verifyRuntimeConfig() error {
	cfg, err := d.bundle.LoadRuntimeConfig()
	if err != nil {
		return fmt.Errorf("%w: could not load runtime config from index page: %v", oerrors.ErrVerification, err)
	}
	return VerifyRuntimeConfig(cfg, d.bundle.Version(), d.expect)
}

// VerifyRuntimeConfig reports whether an index page's runtime config is
// acceptable for a bundle of the given version.
func VerifyRuntimeConfig(cfg *bundle.RuntimeConfig, version string, expect Expectations) error {
	if cfg.Version != "" && cfg.Version != version {
		return fmt.Errorf("%w: version mismatch for index page, expected: %s, actual: %s",
			oerrors.ErrVerification, version, cfg.Version)
	}

	if !cfg.HasRootURL() {
		return fmt.Errorf("%w: could not find ROOT_URL in downloaded asset bundle", oerrors.ErrVerification)
	}

	root, err := url.Parse(cfg.RootURL)
	if err != nil {
		return fmt.Errorf("%w: invalid ROOT_URL %q in downloaded asset bundle", oerrors.ErrVerification, cfg.RootURL)
	}
	if hostOf(expect.RootURL) != localhost && root.Hostname() == localhost {
		return fmt.Errorf("%w: ROOT_URL in downloaded asset bundle would change current ROOT_URL to localhost. "+
			"Make sure ROOT_URL has been configured correctly on the server", oerrors.ErrVerification)
	}

	if !cfg.HasAppID() {
		return fmt.Errorf("%w: could not find appId in downloaded asset bundle", oerrors.ErrVerification)
	}
	if cfg.AppID != expect.AppID {
		return fmt.Errorf("%w: appId in downloaded asset bundle does not match current appId. "+
			"Make sure the server at %s is serving the right app", oerrors.ErrVerification, cfg.RootURL)
	}
	return nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
