package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
)

// FetchError is returned for responses outside the 2xx range.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %d (%s)", e.URL, e.StatusCode, e.Status)
}

// ProgressFunc receives a whole-number percentage of the body read so far.
type ProgressFunc func(percent int)

type RequestOptions struct {
	Method string
	Header http.Header
	Body   []byte
	Client *http.Client
}

// DefaultClient serves http(s) and file:// URLs.
var DefaultClient = newDefaultClient()

func newDefaultClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.RegisterProtocol("file", http.NewFileTransport(http.Dir("/")))
	return &http.Client{Transport: tr}
}

// FetchBlob downloads url into memory. Progress is reported from a separate
// goroutine and never delays the result; a body of unknown length reports no
// progress.
func FetchBlob(ctx context.Context, url string, onProgress ProgressFunc, opts RequestOptions) ([]byte, error) {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	client := opts.Client
	if client == nil {
		client = DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Status: statusText(resp)}
	}

	var r io.Reader = resp.Body
	if onProgress != nil && resp.ContentLength > 0 {
		pr := newProgressReader(resp.Body, resp.ContentLength)
		go pr.deliver(onProgress)
		defer pr.close()
		r = pr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return data, nil
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

type progressReader struct {
	r        io.Reader
	total    int64
	received int64
	last     int
	updates  chan int
}

func newProgressReader(r io.Reader, total int64) *progressReader {
	return &progressReader{r: r, total: total, last: -1, updates: make(chan int, 16)}
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.received += int64(n)
		pct := int(math.Round(float64(p.received) / float64(p.total) * 100))
		if pct != p.last {
			p.last = pct
			select {
			case p.updates <- pct:
			default:
				// Drop intermediate values when the consumer lags.
			}
		}
	}
	return n, err
}

func (p *progressReader) close() {
	close(p.updates)
}

func (p *progressReader) deliver(fn ProgressFunc) {
	for pct := range p.updates {
		callProgress(fn, pct)
	}
}

func callProgress(fn ProgressFunc, pct int) {
	defer func() {
		_ = recover()
	}()
	fn(pct)
}
