// Package fetch implements the FetchCoordinator: the bridge between the
// Solver's "I need this interface/implementation" requests and the
// download/store/verification machinery. It drives interface (feed)
// refreshes non-blockingly (the InterfaceCache is updated asynchronously,
// and watchers fire), and drives implementation retrieval — either a
// single archive or a multi-step Recipe via the internal Cook — to a
// verified, committed Store directory.
//
// Grounded on zeroinstall/injector/policy.py's begin_iface_download /
// begin_impl_download and fetch.py's Fetcher/Cook split, expressed with
// the teacher's in-flight-job-dedup pattern from
// internal/infrastructure/publishing/queue.go (a mutex-guarded map of
// in-flight jobs keyed by identity, joined rather than duplicated on a
// second request).
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/ipiton/depsolve/internal/archive"
	"github.com/ipiton/depsolve/internal/download"
	"github.com/ipiton/depsolve/internal/ifacecache"
	"github.com/ipiton/depsolve/internal/model"
	"github.com/ipiton/depsolve/internal/obs/metrics"
	"github.com/ipiton/depsolve/internal/store"
)

// FeedLoader parses a downloaded, signature-verified feed document into an
// Interface. XML parsing itself is out of this repo's core scope
// (spec.md §1); FeedLoader is the seam a real XML parser plugs into.
type FeedLoader interface {
	ParseFeed(ctx context.Context, uri string, data []byte) (*model.Interface, error)
}

// SignatureVerifier checks a downloaded feed document's signature and
// returns the verified payload (often the same bytes, sometimes the
// document with a detached signature block stripped). Out of this
// repo's core scope; signature verification failures must never let the
// coordinator commit data to the InterfaceCache (spec.md §7).
type SignatureVerifier interface {
	Verify(ctx context.Context, uri string, data []byte) ([]byte, error)
}

// Coordinator is the FetchCoordinator of spec.md §4.6.
type Coordinator struct {
	ifaces    ifacecache.InterfaceCache
	downloads download.Manager
	store     store.Store
	loader    FeedLoader
	verifier  SignatureVerifier
	logger    *slog.Logger
	metrics   *metrics.DownloadMetrics

	mu            sync.Mutex
	ifaceInFlight map[string]struct{}
	wg            sync.WaitGroup
}

// Options configures a Coordinator.
type Options struct {
	Interfaces ifacecache.InterfaceCache
	Downloads  download.Manager
	Store      store.Store
	Loader     FeedLoader
	Verifier   SignatureVerifier
	Logger     *slog.Logger
	Metrics    *metrics.DownloadMetrics
}

// New builds a Coordinator.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.DefaultRegistry().Download()
	}
	return &Coordinator{
		ifaces:        opts.Interfaces,
		downloads:     opts.Downloads,
		store:         opts.Store,
		loader:        opts.Loader,
		verifier:      opts.Verifier,
		logger:        logger,
		metrics:       m,
		ifaceInFlight: make(map[string]struct{}),
	}
}

// IsLocal reports whether uri names a local feed (an absolute path),
// which never needs a network fetch.
func IsLocal(uri string) bool {
	return strings.HasPrefix(uri, "/")
}

// BeginInterfaceDownload starts (or, if already in flight and !force,
// no-ops) a background refresh of iface's feed document. It returns
// immediately; the InterfaceCache is updated and watchers notified once
// the download, signature verification, and parse complete.
//
// Mirrors policy.py's begin_iface_download: "If a download is already in
// flight for this URL, attach no new handler (the original
// signature-verifier callback will update the InterfaceCache on
// success)."
func (c *Coordinator) BeginInterfaceDownload(ctx context.Context, iface *model.Interface, force bool) error {
	if IsLocal(iface.URI) {
		return nil
	}

	c.mu.Lock()
	if _, inFlight := c.ifaceInFlight[iface.URI]; inFlight && !force {
		c.mu.Unlock()
		return nil
	}
	c.ifaceInFlight[iface.URI] = struct{}{}
	c.mu.Unlock()

	jobID, err := c.downloads.Begin(ctx, iface.URI)
	if err != nil {
		c.clearInFlight(iface.URI)
		return fmt.Errorf("fetch: starting feed download for %s: %w", iface.URI, err)
	}

	c.wg.Add(1)
	go c.finishInterfaceDownload(iface.URI, jobID)
	return nil
}

func (c *Coordinator) clearInFlight(uri string) {
	c.mu.Lock()
	delete(c.ifaceInFlight, uri)
	c.mu.Unlock()
}

func (c *Coordinator) finishInterfaceDownload(uri, jobID string) {
	defer c.wg.Done()
	defer c.clearInFlight(uri)

	ctx := context.Background()
	res, err := c.downloads.Await(ctx, jobID)
	if err != nil {
		c.logger.Warn("fetch: feed download failed", "uri", uri, "error", err)
		return
	}
	defer res.Body.Close()

	data := make([]byte, 0, res.Size)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := res.Body.Read(buf)
		if n > 0 {
			data = append(data, buf[:n]...)
		}
		if rerr != nil {
			break
		}
	}

	if c.verifier != nil {
		verified, verr := c.verifier.Verify(ctx, uri, data)
		if verr != nil {
			c.logger.Warn("fetch: feed signature verification failed, feed ignored", "uri", uri, "error", verr)
			return
		}
		data = verified
	}

	if c.loader == nil {
		c.logger.Warn("fetch: no feed loader configured, feed ignored", "uri", uri)
		return
	}
	iface, perr := c.loader.ParseFeed(ctx, uri, data)
	if perr != nil {
		c.logger.Warn("fetch: feed parse failed, feed ignored", "uri", uri, "error", perr)
		return
	}

	c.ifaces.Put(iface)
}

// Wait blocks until every BeginInterfaceDownload call issued so far has
// finished (successfully or not), or ctx is cancelled. Mirrors
// handler.wait_for_downloads being the one blocking primitive a caller
// (internal/solve's Once helper) may use outside the solver/ranker.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchImplementation drives method to completion and returns the path
// to a verified, committed directory in the Store. For a local
// implementation (LocalPath set) this is a pure pass-through — no store
// interaction at all.
func (c *Coordinator) FetchImplementation(ctx context.Context, impl *model.Implementation, method model.RetrievalMethod) (string, error) {
	if impl.LocalPath != "" {
		return impl.LocalPath, nil
	}

	digest, err := implementationDigest(impl)
	if err != nil {
		return "", err
	}

	if path, ok := c.store.Lookup(digest); ok {
		return path, nil
	}

	switch m := method.(type) {
	case model.DownloadSource:
		return c.fetchSingle(ctx, digest, m)
	case model.Recipe:
		return c.cook(ctx, digest, m)
	default:
		return "", fmt.Errorf("fetch: unknown retrieval method %T", method)
	}
}

func implementationDigest(impl *model.Implementation) (string, error) {
	if strings.Contains(impl.ID, "=") {
		return impl.ID, nil
	}
	if len(impl.Digests) > 0 {
		return impl.Digests[0], nil
	}
	return "", fmt.Errorf("fetch: implementation %q has no digest to verify against", impl.ID)
}

func (c *Coordinator) fetchSingle(ctx context.Context, digest string, src model.DownloadSource) (string, error) {
	tmp, err := c.store.StageTemp()
	if err != nil {
		return "", fmt.Errorf("fetch: staging temp dir: %w", err)
	}

	if err := c.downloadAndUnpack(ctx, tmp, src); err != nil {
		os.RemoveAll(tmp)
		return "", err
	}

	return c.store.VerifyAndCommit(ctx, tmp, digest)
}

func (c *Coordinator) downloadAndUnpack(ctx context.Context, destDir string, src model.DownloadSource) error {
	jobID, err := c.downloads.Begin(ctx, src.URL)
	if err != nil {
		return fmt.Errorf("fetch: starting download of %s: %w", src.URL, err)
	}
	res, err := c.downloads.Await(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch: downloading %s: %w", src.URL, err)
	}
	defer res.Body.Close()

	format := archive.Format(src.MimeType)
	if format == "" {
		format = archive.DetectFormat(src.URL)
	}
	if err := archive.Unpack(res.Body, format, destDir, src.Extract, src.Destination); err != nil {
		return fmt.Errorf("fetch: unpacking %s: %w", src.URL, err)
	}
	return nil
}

// cook runs a Recipe: every step's download starts in parallel, and once
// all complete, each step's archive is unpacked in recipe-declared order
// into a single staging directory before the combined result is verified
// and committed. Mirrors spec.md §4.6's Cook description.
func (c *Coordinator) cook(ctx context.Context, digest string, recipe model.Recipe) (string, error) {
	steps := make([]model.DownloadSource, 0, len(recipe.Steps))
	for _, s := range recipe.Steps {
		src, ok := s.(model.DownloadSource)
		if !ok {
			return "", fmt.Errorf("fetch: recipe step is not a download source: %T", s)
		}
		steps = append(steps, src)
	}
	if len(steps) == 0 {
		return "", fmt.Errorf("fetch: recipe has no steps")
	}

	type stepResult struct {
		body []byte
		err  error
	}
	results := make([]stepResult, len(steps))
	jobIDs := make([]string, len(steps))

	for i, step := range steps {
		jobID, err := c.downloads.Begin(ctx, step.URL)
		if err != nil {
			return "", fmt.Errorf("fetch: starting recipe step %d (%s): %w", i, step.URL, err)
		}
		jobIDs[i] = jobID
	}

	var wg sync.WaitGroup
	for i := range steps {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.downloads.Await(ctx, jobIDs[i])
			if err != nil {
				results[i] = stepResult{err: err}
				return
			}
			defer res.Body.Close()
			data := make([]byte, 0, res.Size)
			buf := make([]byte, 32*1024)
			for {
				n, rerr := res.Body.Read(buf)
				if n > 0 {
					data = append(data, buf[:n]...)
				}
				if rerr != nil {
					break
				}
			}
			results[i] = stepResult{body: data}
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r.err != nil {
			return "", fmt.Errorf("fetch: recipe step %d (%s) failed: %w", i, steps[i].URL, r.err)
		}
	}

	tmp, err := c.store.StageTemp()
	if err != nil {
		return "", fmt.Errorf("fetch: staging recipe dir: %w", err)
	}

	for i, step := range steps {
		format := archive.Format(step.MimeType)
		if format == "" {
			format = archive.DetectFormat(step.URL)
		}
		if err := archive.Unpack(bytes.NewReader(results[i].body), format, tmp, step.Extract, step.Destination); err != nil {
			os.RemoveAll(tmp)
			return "", fmt.Errorf("fetch: recipe step %d unpack failed: %w", i, err)
		}
	}

	return c.store.VerifyAndCommit(ctx, tmp, digest)
}
