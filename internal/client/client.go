// Package client wraps the BruteforceMovable coordination server API.
// The server signals outcomes through literal response bodies rather than
// HTTP status codes; this package turns those tokens into sentinel errors the
// state machine can branch on with errors.Is.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Mike15678/bfm-seedminer-autolauncher/pkg/protocol"
)

// Expected negative responses. These are normal control-flow branches for the
// caller, not failures.
var (
	// ErrNoWork means the server has no job to hand out right now.
	ErrNoWork = errors.New("no work available")

	// ErrAlreadyClaimed means another client claimed the job first.
	ErrAlreadyClaimed = errors.New("job already claimed")

	// ErrUploadRejected means the server did not acknowledge the upload with
	// its success token.
	ErrUploadRejected = errors.New("upload rejected by server")
)

// maxBodySize caps response bodies; job ids and tokens are tiny, so anything
// bigger is a garbled response and gets treated as a transport error.
const maxBodySize = 4096

// Client talks to the coordination server.
type Client struct {
	baseURL   string
	updateURL string
	httpc     *http.Client
	log       *slog.Logger

	// releaseBackoff is replaced in tests to avoid real sleeps.
	releaseBackoff func() backoff.BackOff
}

// New creates a client for the given server base URL and update URL.
func New(baseURL, updateURL string, log *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		updateURL: strings.TrimRight(updateURL, "/"),
		log:       log,
		httpc: &http.Client{
			Timeout: 30 * time.Second,
		},
		releaseBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2)
		},
	}
}

// FetchJob polls /getWork. It returns the job id, ErrNoWork when the server
// answers with its "nothing" sentinel, or a transport error.
func (c *Client) FetchJob(ctx context.Context) (string, error) {
	body, err := c.getBody(ctx, c.baseURL+protocol.PathGetWork, nil)
	if err != nil {
		return "", err
	}
	if body == protocol.TokenNothing {
		return "", ErrNoWork
	}
	return body, nil
}

// ClaimJob races other clients for the job. ErrAlreadyClaimed is an expected
// outcome; the caller discards the id and fetches again.
func (c *Client) ClaimJob(ctx context.Context, id string) error {
	body, err := c.getBody(ctx, c.baseURL+protocol.PathClaimWork, url.Values{protocol.ParamTask: {id}})
	if err != nil {
		return err
	}
	if body == protocol.TokenError {
		return ErrAlreadyClaimed
	}
	return nil
}

// CheckJobAlive asks the server whether the job is still ours. A non-"ok"
// body is an authoritative cancellation, not a transport error.
func (c *Client) CheckJobAlive(ctx context.Context, id string) (bool, error) {
	body, err := c.getBody(ctx, c.baseURL+protocol.PathCheck, url.Values{protocol.ParamTask: {id}})
	if err != nil {
		return false, err
	}
	return body == protocol.TokenOK, nil
}

// ReleaseJob notifies the server that the job is done with locally, either
// permanently consumed (requeue=false) or eligible for another client
// (requeue=true). The call is retried up to 3 times with a short delay;
// exhausting the retries returns the last error.
func (c *Client) ReleaseJob(ctx context.Context, id string, requeue bool) error {
	disposition := protocol.DispositionKill
	if requeue {
		disposition = protocol.DispositionRequeue
	}
	q := url.Values{
		protocol.ParamTask: {id},
		protocol.ParamKill: {disposition},
	}
	op := func() error {
		_, err := c.getBody(ctx, c.baseURL+protocol.PathKillWork, q)
		return err
	}
	err := backoff.Retry(op, backoff.WithContext(c.releaseBackoff(), ctx))
	if err != nil {
		return fmt.Errorf("release job %s (kill=%s): %w", id, disposition, err)
	}
	return nil
}

// DownloadPart1 streams the job's input descriptor to dest.
func (c *Client) DownloadPart1(ctx context.Context, id, dest string) error {
	return c.downloadFile(ctx, c.baseURL+protocol.PathGetPart1+"?"+
		url.Values{protocol.ParamTask: {id}}.Encode(), dest)
}

// DownloadBenchmarkPart1 fetches the fixed benchmark input descriptor.
func (c *Client) DownloadBenchmarkPart1(ctx context.Context, dest string) error {
	return c.downloadFile(ctx, c.baseURL+protocol.PathBenchmarkPart1, dest)
}

// Version fetches the published autolauncher version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	return c.getBody(ctx, c.updateURL+protocol.PathVersion, nil)
}

// UploadResult posts the artifacts as a multipart form. The server's literal
// "success" body is the only accepted acknowledgement; any other body yields
// ErrUploadRejected. paths maps multipart field names to local files.
func (c *Client) UploadResult(ctx context.Context, id, minerName string, paths map[string]string) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeParts(mw, paths)
		mw.Close()
		pw.CloseWithError(err)
	}()

	q := url.Values{
		protocol.ParamTask:      {id},
		protocol.ParamMinerName: {minerName},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+protocol.PathUpload+"?"+q.Encode(), pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("read upload response: %w", err)
	}
	ack := strings.TrimSpace(string(body))
	if ack != protocol.TokenSuccess {
		c.log.Warn("upload not acknowledged", "job", id, "status", resp.StatusCode, "body", ack)
		return fmt.Errorf("%w: %q", ErrUploadRejected, ack)
	}
	return nil
}

func writeParts(mw *multipart.Writer, paths map[string]string) error {
	for field, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		part, err := mw.CreateFormFile(field, filepath.Base(path))
		if err != nil {
			f.Close()
			return err
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			return fmt.Errorf("stream %s: %w", path, err)
		}
		f.Close()
	}
	return nil
}

func (c *Client) getBody(ctx context.Context, rawURL string, q url.Values) (string, error) {
	if len(q) > 0 {
		rawURL += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if len(body) > maxBodySize {
		return "", fmt.Errorf("oversized response from %s", req.URL.Path)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d", req.URL.Path, resp.StatusCode)
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) downloadFile(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return fmt.Errorf("write %s: %w", dest, err)
	}
	return f.Close()
}
