package policy

import (
	"context"
	"fmt"
	"log/slog"
)

// DownloadProgress describes the current state of an in-flight download,
// as reported to a Handler.
type DownloadProgress struct {
	URL           string
	BytesReceived int64
	BytesTotal    int64 // 0 if unknown
}

// Handler receives progress notifications from downloads started while
// applying a Policy, and is asked to block until outstanding downloads
// settle. Mirrors policy.py's handler slot (get_download,
// wait_for_downloads) kept as a narrow interface so tests and headless
// runs can substitute a no-op implementation.
type Handler interface {
	// GetDownload is called when a new download begins.
	GetDownload(ctx context.Context, url string)
	// UpdateDownload reports incremental progress for a download already
	// announced via GetDownload.
	UpdateDownload(progress DownloadProgress)
	// DownloadFinished is called exactly once per download announced via
	// GetDownload, successful or not.
	DownloadFinished(url string, err error)
	// WaitForDownloads blocks until every announced download has called
	// DownloadFinished, or ctx is cancelled.
	WaitForDownloads(ctx context.Context) error
}

// ConsoleHandler reports progress via a structured logger. This is the
// default Handler for interactive CLI use.
type ConsoleHandler struct {
	logger  *slog.Logger
	pending map[string]chan struct{}
}

// NewConsoleHandler builds a ConsoleHandler that logs to slog.Default().
func NewConsoleHandler() *ConsoleHandler {
	return NewConsoleHandlerWithLogger(slog.Default())
}

// NewConsoleHandlerWithLogger builds a ConsoleHandler logging through logger.
func NewConsoleHandlerWithLogger(logger *slog.Logger) *ConsoleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleHandler{logger: logger, pending: make(map[string]chan struct{})}
}

func (h *ConsoleHandler) GetDownload(ctx context.Context, url string) {
	h.logger.Info("download started", "url", url)
	h.pending[url] = make(chan struct{})
}

func (h *ConsoleHandler) UpdateDownload(p DownloadProgress) {
	if p.BytesTotal > 0 {
		h.logger.Debug("download progress", "url", p.URL, "received", p.BytesReceived, "total", p.BytesTotal)
	} else {
		h.logger.Debug("download progress", "url", p.URL, "received", p.BytesReceived)
	}
}

func (h *ConsoleHandler) DownloadFinished(url string, err error) {
	if err != nil {
		h.logger.Warn("download failed", "url", url, "error", err)
	} else {
		h.logger.Info("download finished", "url", url)
	}
	if ch, ok := h.pending[url]; ok {
		close(ch)
		delete(h.pending, url)
	}
}

func (h *ConsoleHandler) WaitForDownloads(ctx context.Context) error {
	for url, ch := range h.pending {
		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for download of %s: %w", url, ctx.Err())
		}
	}
	return nil
}

// NoopHandler discards all progress notifications and never blocks.
// Used by tests, which never start real downloads.
type NoopHandler struct{}

func NewNoopHandler() *NoopHandler { return &NoopHandler{} }

func (NoopHandler) GetDownload(context.Context, string)       {}
func (NoopHandler) UpdateDownload(DownloadProgress)           {}
func (NoopHandler) DownloadFinished(string, error)            {}
func (NoopHandler) WaitForDownloads(context.Context) error    { return nil }
