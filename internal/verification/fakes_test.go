package verification

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// fakeScripter evaluates the store's Lua scripts against an in-memory map of hashes.
type fakeScripter struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	ttls   map[string]int64
	err    error
}

func newFakeScripter() *fakeScripter {
	return &fakeScripter{
		hashes: map[string]map[string]string{},
		ttls:   map[string]int64{},
	}
}

func (f *fakeScripter) VerificationKey(id string) string {
	return "sf:verification:" + id
}

func (f *fakeScripter) HGetAll(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeScripter) RunScript(_ context.Context, script *redis.Script, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewCmdResult(nil, f.err)
	}
	key := keys[0]
	str := func(i int) string { return fmt.Sprint(args[i]) }

	switch script {
	case createScript:
		if _, ok := f.hashes[key]; ok {
			return redis.NewCmdResult(int64(0), nil)
		}
		f.hashes[key] = map[string]string{fieldAction: str(0), fieldState: str(1), fieldCreatedAt: str(2)}
		f.ttls[key] = args[3].(int64)
		return redis.NewCmdResult(int64(1), nil)
	case transitionScript, consumeScript:
		h, ok := f.hashes[key]
		if !ok {
			return redis.NewCmdResult(int64(-1), nil)
		}
		if h[fieldAction] != str(0) {
			return redis.NewCmdResult(int64(-2), nil)
		}
		if h[fieldState] != str(1) {
			return redis.NewCmdResult(int64(0), nil)
		}
		if script == consumeScript {
			delete(f.hashes, key)
			delete(f.ttls, key)
			return redis.NewCmdResult(int64(1), nil)
		}
		h[fieldState] = str(2)
		if ttl := args[3].(int64); ttl > 0 {
			f.ttls[key] = ttl
		}
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}

func (f *fakeScripter) state(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[f.VerificationKey(id)][fieldState]
}

func (f *fakeScripter) ttl(id string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[f.VerificationKey(id)]
}

// fakeProvider returns a fixed verdict and counts calls.
type fakeProvider struct {
	mu       sync.Mutex
	result   ProviderResult
	err      error
	calls    int
	siteKey  string
	lastReq  ProviderRequest
	onVerify func()
}

func (p *fakeProvider) IssueChallenge(context.Context, enums.VerificationAction) (ChallengeParams, error) {
	return ChallengeParams{SiteKey: p.siteKey}, nil
}

func (p *fakeProvider) Validate(_ context.Context, req ProviderRequest) (ProviderResult, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	hook := p.onVerify
	p.mu.Unlock()
	if hook != nil {
		hook()
	}
	return p.result, p.err
}
