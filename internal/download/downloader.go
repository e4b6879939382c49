// Package download fetches the assets a pending bundle is missing, verifies
// each response and writes it into the bundle directory.
package download

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/opmodel/hcp/internal/bundle"
	oerrors "github.com/opmodel/hcp/internal/errors"
	"github.com/opmodel/hcp/internal/fsutil"
	"github.com/opmodel/hcp/internal/output"
	"github.com/opmodel/hcp/internal/transport"
)

// DefaultConcurrency is the number of assets fetched at once.
const DefaultConcurrency = 6

// dontServeIndexParam asks the server to answer 404 instead of substituting
// its index page for an unknown asset.
const dontServeIndexParam = "meteor_dont_serve_index"

// Callback receives the outcome of a download. Exactly one method is called
// per download, and none after Cancel.
type Callback interface {
	OnFinished(b *bundle.Bundle)
	OnFailure(err error)
}

// Expectations describe the running application the downloaded index page
// must belong to.
type Expectations struct {
	// AppID must equal the index page's appId.
	AppID string
	// RootURL is the current root URL; a non-local host must not regress
	// to localhost.
	RootURL string
}

// Options configures a Downloader.
type Options struct {
	// Client performs requests. Defaults to transport.NewClient.
	Client *http.Client
	// Concurrency caps in-flight requests. Defaults to DefaultConcurrency.
	Concurrency int
	// Expect holds the runtime config expectations for the index page.
	Expect Expectations
	// Logger defaults to the "download" component logger.
	Logger *log.Logger
}

// State is the downloader lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateFinished
	StateFailed
	StateCancelled
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Downloader fetches a list of missing assets for one bundle.
type Downloader struct {
	bundle      *bundle.Bundle
	baseURL     *url.URL
	client      *http.Client
	concurrency int
	expect      Expectations
	log         *log.Logger
	callback    Callback

	mu      sync.Mutex
	state   State
	missing map[*bundle.Asset]struct{}
	order   []*bundle.Asset
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a downloader for the given missing assets of b. baseURL is the
// directory URL the asset URL paths are resolved against.
func New(b *bundle.Bundle, baseURL string, missing []*bundle.Asset, callback Callback, opts Options) (*Downloader, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL %q: %v", oerrors.ErrValidation, baseURL, err)
	}
	for _, a := range missing {
		if !filepath.IsLocal(filepath.FromSlash(a.FilePath)) {
			return nil, fmt.Errorf("%w: asset path %q is outside the bundle", oerrors.ErrManifest, a.FilePath)
		}
	}

	d := &Downloader{
		bundle:      b,
		baseURL:     base,
		client:      opts.Client,
		concurrency: opts.Concurrency,
		expect:      opts.Expect,
		log:         opts.Logger,
		callback:    callback,
		missing:     make(map[*bundle.Asset]struct{}, len(missing)),
		order:       append([]*bundle.Asset(nil), missing...),
		done:        make(chan struct{}),
	}
	if d.client == nil {
		d.client = transport.NewClient(transport.DefaultTimeout, d.concurrency)
	}
	if d.concurrency <= 0 {
		d.concurrency = DefaultConcurrency
	}
	if d.log == nil {
		d.log = output.ComponentLogger("download")
	}
	for _, a := range missing {
		d.missing[a] = struct{}{}
	}
	return d, nil
}

// Bundle returns the bundle being downloaded.
func (d *Downloader) Bundle() *bundle.Bundle {
	return d.bundle
}

// State returns the current state.
func (d *Downloader) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Missing returns the assets not yet fetched.
func (d *Downloader) Missing() []*bundle.Asset {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*bundle.Asset, 0, len(d.missing))
	for _, a := range d.order {
		if _, ok := d.missing[a]; ok {
			out = append(out, a)
		}
	}
	return out
}

// Resume starts fetching in the background. It is a no-op unless the
// downloader is idle.
func (d *Downloader) Resume(ctx context.Context) {
	d.mu.Lock()
	if d.state != StateIdle {
		d.mu.Unlock()
		return
	}
	d.state = StateRunning
	ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	go d.run(ctx)
}

// Cancel stops issuing new requests. In-flight results are discarded and no
// callback fires afterwards.
func (d *Downloader) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateIdle:
		d.state = StateCancelled
		close(d.done)
	case StateRunning:
		d.state = StateCancelled
		d.cancel()
	}
}

// Wait blocks until a resumed or cancelled downloader has stopped.
func (d *Downloader) Wait() {
	<-d.done
}

func (d *Downloader) run(ctx context.Context) {
	defer close(d.done)
	defer d.cancel()

	d.log.Debug("starting download", "version", d.bundle.Version(), "assets", len(d.order), "concurrency", d.concurrency)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, a := range d.order {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return d.fetch(gctx, a)
		})
	}
	d.complete(ctx, g.Wait())
}

func (d *Downloader) complete(ctx context.Context, err error) {
	d.mu.Lock()
	if d.state != StateRunning {
		d.mu.Unlock()
		return
	}
	if err == nil && len(d.missing) != 0 {
		err = fmt.Errorf("download stopped with %d assets missing", len(d.missing))
	}
	if err != nil && ctx.Err() != nil {
		d.state = StateCancelled
		d.mu.Unlock()
		return
	}
	if err != nil {
		d.state = StateFailed
	} else {
		d.state = StateFinished
	}
	d.mu.Unlock()

	if err != nil {
		d.log.Error("download failed", "version", d.bundle.Version(), "error", err)
		d.callback.OnFailure(err)
		return
	}
	d.log.Info("finished downloading", "version", d.bundle.Version(), "assets", len(d.order))
	d.callback.OnFinished(d.bundle)
}

func (d *Downloader) fetch(ctx context.Context, a *bundle.Asset) error {
	u := DownloadURL(d.baseURL, a)

	resp, err := transport.Get(ctx, d.client, u)
	if err != nil {
		return fmt.Errorf("error downloading asset %s: %w", a.FilePath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: non-success status code %d for asset: %s", oerrors.ErrVerification, resp.StatusCode, a.FilePath)
	}

	if err := d.verifyHash(a, resp.Header.Get("ETag")); err != nil {
		return err
	}

	n, err := fsutil.WriteStreamAtomic(a.File(), resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: writing asset %s to %s: %v", oerrors.ErrFilesystem, a.FilePath, a.File(), err)
	}

	if !a.IsIndexPage() && n != a.Size {
		d.log.Warn("wrong size for asset", "asset", a.FilePath, "expected", a.Size, "actual", n)
	}

	if a.IsIndexPage() {
		if err := d.verifyRuntimeConfig(); err != nil {
			return err
		}
	}

	d.mu.Lock()
	delete(d.missing, a)
	d.mu.Unlock()
	return nil
}

// DownloadURL returns the URL an asset is fetched from: its URL path without
// the leading slash, resolved against base. Every asset except the index
// page carries the dont-serve-index flag.
func DownloadURL(base *url.URL, a *bundle.Asset) string {
	rel := "./" + strings.TrimPrefix(a.URLPath, "/")
	ref, err := url.Parse(rel)
	if err != nil {
		ref = &url.URL{Path: rel}
	}

	u := base.ResolveReference(ref)
	if !a.IsIndexPage() {
		q := u.Query()
		q.Set(dontServeIndexParam, "true")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
