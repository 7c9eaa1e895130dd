// Package bucket implements spec.md §4.7, C7: the bucket registry that
// maps a connection to a storage engine and serializes bucket deletion
// against in-flight commands.
package bucket

import (
	"regexp"
	"sync"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/yeqown/submemd/engine"
	"github.com/yeqown/submemd/stats"
)

var (
	ErrInvalidName  = errors.New("bucket: invalid name")
	ErrAlreadyExists = errors.New("bucket: already exists")
	ErrNotFound     = errors.New("bucket: not found")
	ErrCapacity     = errors.New("bucket: registry at capacity")
)

// nameRe matches spec.md §4.7's "1..100 chars; alphanumeric plus _ - . %".
var nameRe = regexp.MustCompile(`^[A-Za-z0-9_.%-]{1,100}$`)

// Bucket binds one storage engine and stats recorder under a name, and
// tracks in-flight commands so Delete can drain them before tearing
// down.
type Bucket struct {
	Name   string
	Engine engine.Engine
	Stats  *stats.Recorder

	draining  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newBucket(name string, eng engine.Engine) *Bucket {
	return &Bucket{
		Name:     name,
		Engine:   eng,
		Stats:    stats.NewRecorder(0),
		draining: make(chan struct{}),
	}
}

// Begin registers one in-flight command against this bucket. It returns
// false if the bucket is already draining, in which case the caller must
// not dispatch the command (spec.md §4.7: "a connection parked reading a
// half-delivered request must not stall deletion indefinitely").
func (b *Bucket) Begin() bool {
	select {
	case <-b.draining:
		return false
	default:
	}
	b.wg.Add(1)
	return true
}

// End releases one in-flight command registered via Begin.
func (b *Bucket) End() { b.wg.Done() }

// Draining returns a channel that closes when this bucket starts
// deleting, so a connection parked mid-read can select on it alongside
// its socket read and wake up to drain (spec.md §4.7's "deletion must
// signal such connections so they drain").
func (b *Bucket) Draining() <-chan struct{} { return b.draining }

func (b *Bucket) drain() {
	b.closeOnce.Do(func() { close(b.draining) })
	b.wg.Wait()
}

// Registry maps bucket names to Buckets.
type Registry struct {
	mu         sync.RWMutex
	buckets    map[string]*Bucket
	maxBuckets int
	newEngine  func() engine.Engine
}

// NewRegistry returns an empty Registry bounded to maxBuckets entries.
// newEngine constructs a fresh storage engine for each created bucket.
func NewRegistry(maxBuckets int, newEngine func() engine.Engine) *Registry {
	return &Registry{
		buckets:    make(map[string]*Bucket),
		maxBuckets: maxBuckets,
		newEngine:  newEngine,
	}
}

// Create validates name and registers a new bucket.
func (r *Registry) Create(name string) error {
	if !nameRe.MatchString(name) {
		return ErrInvalidName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.buckets[name]; ok {
		return ErrAlreadyExists
	}
	if len(r.buckets) >= r.maxBuckets {
		return ErrCapacity
	}

	r.buckets[name] = newBucket(name, r.newEngine())
	return nil
}

// Select atomically binds a connection to the named bucket by returning
// its handle.
func (r *Registry) Select(name string) (*Bucket, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.buckets[name]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

// Delete removes name from the registry, then drains its in-flight
// commands. The drain wait happens after the registry lock is released,
// per spec.md §4.7: "deletion must not hold the bucket's lock across
// that wait".
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	b, ok := r.buckets[name]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.buckets, name)
	r.mu.Unlock()

	b.drain()
	return nil
}

// DeleteAll deletes every named bucket, aggregating any per-name errors
// (e.g. ErrNotFound) into a single error rather than stopping at the
// first failure — grounded on the teacher's broadcastRequest fan-out
// pattern in client/client.go, applied here to a batch administrative
// operation instead of a cluster RPC.
func (r *Registry) DeleteAll(names []string) error {
	var result *multierror.Error
	for _, name := range names {
		if err := r.Delete(name); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "delete bucket %q", name))
		}
	}
	return result.ErrorOrNil()
}
