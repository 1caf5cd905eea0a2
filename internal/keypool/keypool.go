// Package keypool hands out speech service credentials, spreading concurrent
// recognition sessions across keys and refusing a second session for a
// resource that is already being transcribed.
package keypool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var (
	// ErrResourceBusy is returned when a resource already holds a credential.
	ErrResourceBusy = errors.New("resource busy")
	// ErrNoCredentials is returned when a pool is built without credentials.
	ErrNoCredentials = errors.New("no speech credentials configured")
)

// Credential is one speech service subscription.
type Credential struct {
	Key    string
	Region string
}

// String masks the key so credentials can be logged.
func (c Credential) String() string {
	key := c.Key
	if len(key) > 4 {
		key = strings.Repeat("*", len(key)-4) + key[len(key)-4:]
	}
	return key + "@" + c.Region
}

// ParseCredentials parses "key,region;key,region". Empty entries are ignored.
func ParseCredentials(spec string) ([]Credential, error) {
	var creds []Credential
	for i, entry := range strings.Split(spec, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("credential %d: expected key,region", i+1)
		}
		cred := Credential{Key: strings.TrimSpace(parts[0]), Region: strings.TrimSpace(parts[1])}
		if cred.Key == "" || cred.Region == "" {
			return nil, fmt.Errorf("credential %d: key and region must not be empty", i+1)
		}
		creds = append(creds, cred)
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	return creds, nil
}

// Load reports how many sessions a credential is serving.
type Load struct {
	Credential Credential
	Sessions   int
}

// Pool tracks per-credential load and the set of in-flight resources.
type Pool struct {
	mu       sync.Mutex
	creds    []Credential
	loads    []int
	inFlight map[string]int
	limiters []*rate.Limiter
}

// Option configures a Pool.
type Option func(*Pool)

// WithSessionRate limits how many sessions each credential may start per
// minute. Zero or negative leaves sessions unpaced.
func WithSessionRate(perMinute int) Option {
	return func(p *Pool) {
		if perMinute <= 0 {
			return
		}
		p.limiters = make([]*rate.Limiter, len(p.creds))
		for i := range p.creds {
			p.limiters[i] = rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1)
		}
	}
}

// New builds a pool over creds in the given order.
func New(creds []Credential, opts ...Option) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrNoCredentials
	}
	p := &Pool{
		creds:    append([]Credential(nil), creds...),
		loads:    make([]int, len(creds)),
		inFlight: make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Acquire reserves the least loaded credential for resourceID. Ties go to the
// earliest credential in configuration order. When resourceID is already in
// flight it returns ErrResourceBusy and leaves all loads untouched.
func (p *Pool) Acquire(resourceID string) (Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, busy := p.inFlight[resourceID]; busy {
		return Credential{}, fmt.Errorf("%w: %s", ErrResourceBusy, resourceID)
	}
	best := 0
	for i := 1; i < len(p.loads); i++ {
		if p.loads[i] < p.loads[best] {
			best = i
		}
	}
	p.loads[best]++
	p.inFlight[resourceID] = best
	return p.creds[best], nil
}

// Release returns cred to the pool and clears resourceID. Releasing a
// resource that is not in flight only decrements a positive load.
func (p *Pool) Release(cred Credential, resourceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.inFlight[resourceID]
	if !ok || p.creds[idx] != cred {
		idx = p.indexOf(cred)
	}
	delete(p.inFlight, resourceID)
	if idx >= 0 && p.loads[idx] > 0 {
		p.loads[idx]--
	}
}

// Throttle waits until cred may start another session.
func (p *Pool) Throttle(ctx context.Context, cred Credential) error {
	if p.limiters == nil {
		return nil
	}
	p.mu.Lock()
	idx := p.indexOf(cred)
	p.mu.Unlock()
	if idx < 0 {
		return nil
	}
	return p.limiters[idx].Wait(ctx)
}

// Busy reports whether resourceID currently holds a credential.
func (p *Pool) Busy(resourceID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inFlight[resourceID]
	return ok
}

// Snapshot returns the current load per credential in configuration order.
func (p *Pool) Snapshot() []Load {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Load, len(p.creds))
	for i, cred := range p.creds {
		out[i] = Load{Credential: cred, Sessions: p.loads[i]}
	}
	return out
}

func (p *Pool) indexOf(cred Credential) int {
	for i, candidate := range p.creds {
		if candidate == cred {
			return i
		}
	}
	return -1
}
