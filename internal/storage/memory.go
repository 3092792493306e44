package storage

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// ErrBadSignature is returned by Open for tampered or expired links.
var ErrBadSignature = errors.New("invalid or expired download signature")

type object struct {
	data        []byte
	contentType string
}

// Memory keeps objects in a map guarded by an RWMutex and hands out
// HMAC-signed URLs served by the API's /download route.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]object
	signer  *Signer
	baseURL string
	now     func() time.Time
}

// NewMemory constructs a Memory store whose signed URLs point at baseURL.
func NewMemory(signer *Signer, baseURL string) *Memory {
	return &Memory{
		objects: make(map[string]object),
		signer:  signer,
		baseURL: baseURL,
		now:     time.Now,
	}
}

func (m *Memory) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	buf := make([]byte, len(data))
	copy(buf, data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = object{data: buf, contentType: contentType}
	return "memory://" + key, nil
}

func (m *Memory) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, external("download object", ErrNotFound)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", external("sign object url", ErrNotFound)
	}
	expires := m.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("key", key)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("sig", m.signer.Sign(key, expires))
	return m.baseURL + "/download?" + q.Encode(), nil
}

// Open verifies a signed URL's query values and returns the object.
func (m *Memory) Open(key, expires, sig string) ([]byte, string, error) {
	if !m.signer.Validate(key, expires, sig) {
		return nil, "", ErrBadSignature
	}
	exp, _ := strconv.ParseInt(expires, 10, 64)
	if m.now().Unix() > exp {
		return nil, "", ErrBadSignature
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return obj.data, obj.contentType, nil
}
