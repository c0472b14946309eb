package models

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/dudu/metalroop/internal/runerr"
)

// Fetcher copies a remote artifact into dst
type Fetcher interface {
	Fetch(ctx context.Context, src *url.URL, dst *os.File) error
}

// Store keeps model artifacts in a local directory, downloading missing ones
type Store struct {
	Dir      string
	Log      logrus.FieldLogger
	fetchers map[string]Fetcher
}

// NewStore creates a store rooted at dir with http(s) and s3 fetchers
func NewStore(dir string, log logrus.FieldLogger) *Store {
	httpFetcher := &HTTPFetcher{Client: http.DefaultClient}
	s := &Store{
		Dir: dir,
		Log: log,
		fetchers: map[string]Fetcher{
			"http":  httpFetcher,
			"https": httpFetcher,
			"s3":    &S3Fetcher{Region: os.Getenv("AWS_REGION")},
		},
	}
	return s
}

// ShowProgress renders http download progress bars on w
func (s *Store) ShowProgress(w io.Writer) {
	for _, f := range s.fetchers {
		if h, ok := f.(*HTTPFetcher); ok {
			h.Progress = w
		}
	}
}

// SetFetcher registers the fetcher used for a URL scheme
func (s *Store) SetFetcher(scheme string, f Fetcher) {
	if s.fetchers == nil {
		s.fetchers = make(map[string]Fetcher)
	}
	s.fetchers[scheme] = f
}

// DefaultDir resolves the models directory next to the running executable
func DefaultDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "models"
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), "models")
}

// Path returns where an artifact lives locally
func (s *Store) Path(a Artifact) string {
	return filepath.Join(s.Dir, a.Name)
}

// Present reports whether the artifact is already on disk and valid
func (s *Store) Present(a Artifact) bool {
	ok, err := s.verify(a)
	return err == nil && ok
}

// Ensure returns the local path of an artifact, downloading it when it is
// missing or fails its checksum.
func (s *Store) Ensure(ctx context.Context, a Artifact) (string, error) {
	path := s.Path(a)

	ok, err := s.verify(a)
	if err != nil {
		return "", runerr.New(runerr.KindMissingDependency, "check model "+a.Name, err)
	}
	if ok {
		return path, nil
	}

	if a.URL == "" {
		return "", runerr.Errorf(runerr.KindMissingDependency, "fetch model "+a.Name, "no source configured and %s is missing", path)
	}

	s.logger().WithFields(logrus.Fields{
		"model": a.Name,
		"url":   a.URL,
	}).Info("Downloading model")

	if err := s.download(ctx, a); err != nil {
		return "", runerr.New(runerr.KindMissingDependency, "fetch model "+a.Name, err)
	}

	ok, err = s.verify(a)
	if err != nil {
		return "", runerr.New(runerr.KindMissingDependency, "check model "+a.Name, err)
	}
	if !ok {
		return "", runerr.Errorf(runerr.KindMissingDependency, "check model "+a.Name, "checksum mismatch after download")
	}
	return path, nil
}

// verify reports whether the artifact exists and matches its digest (if any)
func (s *Store) verify(a Artifact) (bool, error) {
	path := s.Path(a)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if info.IsDir() {
		return false, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() == 0 {
		return false, nil
	}
	if a.SHA256 == "" {
		return true, nil
	}

	sum, err := fileSHA256(path)
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(sum, a.SHA256) {
		s.logger().WithFields(logrus.Fields{
			"model":    a.Name,
			"expected": a.SHA256,
			"actual":   sum,
		}).Warn("Model checksum mismatch")
		return false, nil
	}
	return true, nil
}

func (s *Store) download(ctx context.Context, a Artifact) error {
	src, err := url.Parse(a.URL)
	if err != nil {
		return fmt.Errorf("invalid model url %q: %w", a.URL, err)
	}
	fetcher, ok := s.fetchers[src.Scheme]
	if !ok {
		return fmt.Errorf("unsupported model url scheme %q", src.Scheme)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	// Download next to the destination so the final rename is atomic
	tmp, err := os.CreateTemp(s.Dir, "."+a.Name+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fetcher.Fetch(ctx, src, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", a.Name, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(a)); err != nil {
		return fmt.Errorf("failed to install %s: %w", a.Name, err)
	}
	return nil
}

func (s *Store) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// HTTPFetcher downloads artifacts over http(s)
type HTTPFetcher struct {
	Client   *http.Client
	Progress io.Writer // nil disables the bar
}

// Fetch streams the response body into dst
func (f *HTTPFetcher) Fetch(ctx context.Context, src *url.URL, dst *os.File) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	var w io.Writer = dst
	if f.Progress != nil {
		bar := progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetDescription("⬇️  "+path.Base(src.Path)),
			progressbar.OptionSetWriter(f.Progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionClearOnFinish(),
		)
		defer bar.Finish()
		w = io.MultiWriter(dst, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download interrupted: %w", err)
	}
	return nil
}

// S3Fetcher downloads artifacts from s3://bucket/key URLs
type S3Fetcher struct {
	Region string
}

// Fetch downloads the object into dst
func (f *S3Fetcher) Fetch(ctx context.Context, src *url.URL, dst *os.File) error {
	bucket := src.Host
	key := strings.TrimPrefix(src.Path, "/")
	if bucket == "" || key == "" {
		return fmt.Errorf("invalid s3 url %q", src.String())
	}

	cfg := &aws.Config{}
	if f.Region != "" {
		cfg.Region = aws.String(f.Region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return fmt.Errorf("failed to create aws session: %w", err)
	}

	downloader := s3manager.NewDownloader(sess)
	_, err = downloader.DownloadWithContext(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 download failed: %w", err)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
