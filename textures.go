package ui

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Yeicor/toy-ui/internal"
	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrFetchStatus is returned when a texture server answers with a non-OK status.
var ErrFetchStatus = errors.New("unexpected response status")

// Fetcher downloads texture data.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// NewFetcher creates the default Fetcher: http(s) URLs are downloaded with client (http.DefaultClient if nil),
// retrying network errors up to retries times, and anything else is read from the local filesystem.
func NewFetcher(client *http.Client, retries uint) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &uriFetcher{client: client, retries: retries}
}

type uriFetcher struct {
	client  *http.Client
	retries uint
}

func (f *uriFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil || len(u.Scheme) <= 1 { // Plain path (including windows drive letters)
		data, err := os.ReadFile(uri)
		return data, errors.Wrap(err, "read texture")
	}
	switch u.Scheme {
	case "file":
		data, err := os.ReadFile(u.Path)
		return data, errors.Wrap(err, "read texture")
	case "http", "https":
		return backoff.Retry(ctx, func() ([]byte, error) {
			return f.download(ctx, uri)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(f.retries+1))
	default:
		return nil, errors.Errorf("unsupported texture scheme %q", u.Scheme)
	}
}

func (f *uriFetcher) download(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err // Retry
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, backoff.Permanent(errors.Wrapf(ErrFetchStatus, "%s: %s", uri, resp.Status))
	}
	return io.ReadAll(resp.Body)
}

// textureLoader keeps each engine texture slot in sync with its URI.
type textureLoader struct {
	c             *Controller
	requests      [NumTextureSlots]uint64 // Latest request of each slot, older results are dropped
	lastURI       [NumTextureSlots]string
	engineVersion [NumTextureSlots]uint64
}

func newTextureLoader(c *Controller) *textureLoader {
	return &textureLoader{c: c}
}

func (t *textureLoader) effect(slot int) func(e *internal.Effect) {
	return func(e *internal.Effect) {
		s := t.c.store
		uri := s.Textures[slot].Get(e)
		h := s.Engine.Get(e)
		if !h.Ready() {
			return // Loaded once the engine is ready
		}
		_, version := s.Engine.PeekVersioned()
		if uri == t.lastURI[slot] && version == t.engineVersion[slot] {
			return
		}
		t.lastURI[slot], t.engineVersion[slot] = uri, version
		t.load(slot, uri)
	}
}

func (t *textureLoader) load(slot int, uri string) {
	t.requests[slot]++
	id := t.requests[slot]
	if uri == "" {
		return
	}
	fetcher := t.c.fetcher
	t.c.spawn(func(ctx context.Context) {
		data, err := fetcher.Fetch(ctx, uri)
		t.c.post(func() {
			t.apply(slot, id, uri, data, err)
		})
	})
}

func (t *textureLoader) apply(slot int, id uint64, uri string, data []byte, err error) {
	if id != t.requests[slot] {
		return // Superseded
	}
	log := logger("textures")
	if err != nil {
		log.Warn("could not load texture", zap.Int("slot", slot), zap.String("uri", uri), zap.Error(err))
		return
	}
	hdr := isHDR(uri)
	t.c.guard.WithEngine(func(e internal.Engine) {
		log.Debug("uploading texture", zap.Int("slot", slot), zap.String("uri", uri), zap.Bool("hdr", hdr),
			zap.Int("bytes", len(data)))
		if hdr {
			e.LoadChannelHDR(slot, data)
		} else {
			e.LoadChannel(slot, data)
		}
	})
}

// isHDR reports whether uri names a Radiance HDR (RGBE) image.
func isHDR(uri string) bool {
	p := uri
	if u, err := url.Parse(uri); err == nil && len(u.Scheme) > 1 {
		p = u.Path
	}
	return strings.EqualFold(path.Ext(p), ".hdr")
}
