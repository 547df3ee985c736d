// Package scheduler drives the periodic crawl cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/jusanz/snapgate/internal/crawlqueue"
	"github.com/jusanz/snapgate/internal/gateway"
	"github.com/jusanz/snapgate/internal/metrics"
	"github.com/jusanz/snapgate/internal/snapshot"
)

// Config controls Scheduler behavior.
type Config struct {
	Interval    time.Duration
	Topic       string
	BlobPrefix  string
	ContentType string
}

// Scheduler runs one crawl cycle per tick: pick the next URL, stamp it,
// fetch its content, and record a snapshot. Archive and publisher are
// optional; when set, inserted snapshot bodies are archived and an event
// is published.
type Scheduler struct {
	selector  *crawlqueue.Selector
	marker    *crawlqueue.Marker
	writer    *snapshot.Writer
	fetcher   gateway.Fetcher
	archive   gateway.BlobStore
	publisher gateway.Publisher
	hasher    gateway.Hasher
	clock     gateway.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Scheduler. A zero interval defaults to one minute.
func New(
	selector *crawlqueue.Selector,
	marker *crawlqueue.Marker,
	writer *snapshot.Writer,
	fetcher gateway.Fetcher,
	archive gateway.BlobStore,
	publisher gateway.Publisher,
	hasher gateway.Hasher,
	clock gateway.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		selector:  selector,
		marker:    marker,
		writer:    writer,
		fetcher:   fetcher,
		archive:   archive,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, executing one cycle per tick until the context finishes.
// A failed tick is logged and swallowed; the next tick retries from
// scratch.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	entry, err := s.selector.Next(ctx)
	if errors.Is(err, gateway.ErrNotFound) {
		s.logger.Debug("no urls to crawl")
		metrics.ObserveTick("idle")
		return
	}
	if err != nil {
		s.logger.Error("select next url failed", zap.Error(err))
		metrics.ObserveTick("error")
		return
	}

	if err := s.crawl(ctx, entry); err != nil {
		s.logger.Error("crawl cycle failed",
			zap.String("url", entry.URL),
			zap.Error(err))
		metrics.ObserveTick("error")
		return
	}
	metrics.ObserveTick("ok")
}

func (s *Scheduler) crawl(ctx context.Context, entry gateway.URLEntry) error {
	if err := s.marker.MarkCrawled(ctx, entry.URL); err != nil {
		return err
	}

	body, err := s.fetcher.Fetch(ctx, entry.URL)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", entry.URL, err)
	}

	outcome, err := s.writer.Record(ctx, entry.URL, body)
	if err != nil {
		return err
	}
	s.logger.Info("snapshot recorded",
		zap.String("url", entry.URL),
		zap.String("outcome", string(outcome)))

	if outcome == gateway.WriteDuplicate {
		return nil
	}

	uri := s.archiveBody(ctx, entry.URL, body)
	s.publishEvent(ctx, entry.URL, uri)
	return nil
}

// archiveBody is best-effort: the snapshot row is already committed, so
// an archive failure only costs the blob copy.
func (s *Scheduler) archiveBody(ctx context.Context, rawURL string, body []byte) string {
	if s.archive == nil || s.hasher == nil {
		return ""
	}
	hash, err := s.hasher.Hash(body)
	if err != nil {
		s.logger.Warn("hash body failed", zap.String("url", rawURL), zap.Error(err))
		return ""
	}
	uri, err := s.archive.PutObject(ctx, s.blobPath(rawURL, hash), s.cfg.ContentType, body)
	if err != nil {
		s.logger.Warn("archive body failed", zap.String("url", rawURL), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Scheduler) publishEvent(ctx context.Context, rawURL, blobURI string) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"url":       rawURL,
		"blob_uri":  blobURI,
		"timestamp": s.clock.Now().Format(time.RFC3339),
	}
	if _, err := s.publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		s.logger.Warn("publish snapshot event failed",
			zap.String("url", rawURL),
			zap.Error(err))
	}
}

func (s *Scheduler) blobPath(rawURL, hash string) string {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	if s.cfg.BlobPrefix == "" {
		return fmt.Sprintf("%s/%s.html", host, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", s.cfg.BlobPrefix, host, hash)
}
