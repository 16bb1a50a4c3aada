package netutil

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// FallbackDownloader decorates a Downloader with bounded retries for
// transient transport failures. HTTP status errors, malformed URLs, and
// caller cancellation are never retried.
type FallbackDownloader struct {
	Direct Downloader
	// MaxRetries caps the number of attempts after the first. If <= 0,
	// defaults to 2.
	MaxRetries int
	// Backoff is the delay before the first retry, doubled per attempt.
	// If <= 0, defaults to 500ms.
	Backoff time.Duration

	// sleep is swapped in tests to avoid real delays.
	sleep func(time.Duration)
}

// Download attempts direct download, retrying transient transport errors.
func (f *FallbackDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	return f.Get(ctx, url, nil)
}

// Get is Download with extra request headers.
func (f *FallbackDownloader) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	body, err := f.Direct.Get(ctx, url, header)
	if err == nil {
		return body, nil
	}

	if !isTransient(err) {
		return nil, err
	}

	retries := f.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	backoff := f.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	sleep := f.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for i := 0; i < retries; i++ {
		if ctx.Err() != nil {
			return nil, err
		}
		sleep(backoff)
		backoff *= 2

		body, retryErr := f.Direct.Get(ctx, url, header)
		if retryErr == nil {
			return body, nil
		}
		err = retryErr
		if !isTransient(err) {
			return nil, err
		}
	}

	return nil, err
}

// isTransient reports whether a failure is worth retrying: transport-level
// errors only. A server that answered (even with a 5xx) made the URL
// reachable, so the installer should surface that status instead of looping.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return false
	}

	var nonRetryable *NonRetryableError
	return !errors.As(err, &nonRetryable)
}
