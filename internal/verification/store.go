package verification

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Record is the stored state of one challenge.
type Record struct {
	ID        string
	Action    enums.VerificationAction
	State     enums.VerificationState
	CreatedAt time.Time
}

// TransitionResult reports the outcome of a compare-and-set on a record.
type TransitionResult int

const (
	TransitionApplied        TransitionResult = 1
	TransitionStateMismatch  TransitionResult = 0
	TransitionMissing        TransitionResult = -1
	TransitionActionMismatch TransitionResult = -2
)

// Store persists challenges. Every state change is a compare-and-set so
// concurrent validators and claimers race safely.
type Store interface {
	Create(ctx context.Context, rec Record, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Record, error)
	Transition(ctx context.Context, id string, action enums.VerificationAction, from, to enums.VerificationState, ttl time.Duration) (TransitionResult, error)
	Consume(ctx context.Context, id string, action enums.VerificationAction, from enums.VerificationState) (TransitionResult, error)
}

// Scripter is the subset of pkg/redis.Client the store runs on.
type Scripter interface {
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...any) *redis.Cmd
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	VerificationKey(challengeID string) string
}

const (
	fieldAction    = "action"
	fieldState     = "state"
	fieldCreatedAt = "created_at"
)

var errChallengeExists = errors.New("verification challenge already exists")

// KEYS[1] challenge key. ARGV: action, state, created_at, ttl ms.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'action', ARGV[1], 'state', ARGV[2], 'created_at', ARGV[3])
redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[4]))
return 1
`)

// KEYS[1] challenge key. ARGV: action, from, to, ttl ms (0 keeps the current TTL).
var transitionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'action') ~= ARGV[1] then
	return -2
end
if redis.call('HGET', KEYS[1], 'state') ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], 'state', ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// KEYS[1] challenge key. ARGV: action, from.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
if redis.call('HGET', KEYS[1], 'action') ~= ARGV[1] then
	return -2
end
if redis.call('HGET', KEYS[1], 'state') ~= ARGV[2] then
	return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisStore keeps challenges as Redis hashes that expire on their own.
type RedisStore struct {
	redis Scripter
}

func NewRedisStore(client Scripter) *RedisStore {
	return &RedisStore{redis: client}
}

func (s *RedisStore) Create(ctx context.Context, rec Record, ttl time.Duration) error {
	created, err := s.redis.RunScript(ctx, createScript,
		[]string{s.redis.VerificationKey(rec.ID)},
		string(rec.Action),
		string(rec.State),
		strconv.FormatInt(rec.CreatedAt.UTC().UnixMilli(), 10),
		ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("create verification challenge: %w", err)
	}
	if created != 1 {
		return errChallengeExists
	}
	return nil
}

// Get returns nil without error when the challenge is unknown or expired.
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.redis.VerificationKey(id))
	if err != nil {
		return nil, fmt.Errorf("load verification challenge: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	rec := &Record{
		ID:     id,
		Action: enums.VerificationAction(fields[fieldAction]),
		State:  enums.VerificationState(fields[fieldState]),
	}
	if ms, err := strconv.ParseInt(fields[fieldCreatedAt], 10, 64); err == nil {
		rec.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return rec, nil
}

func (s *RedisStore) Transition(ctx context.Context, id string, action enums.VerificationAction, from, to enums.VerificationState, ttl time.Duration) (TransitionResult, error) {
	res, err := s.redis.RunScript(ctx, transitionScript,
		[]string{s.redis.VerificationKey(id)},
		string(action), string(from), string(to), ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return TransitionStateMismatch, fmt.Errorf("transition verification challenge: %w", err)
	}
	return TransitionResult(res), nil
}

func (s *RedisStore) Consume(ctx context.Context, id string, action enums.VerificationAction, from enums.VerificationState) (TransitionResult, error) {
	res, err := s.redis.RunScript(ctx, consumeScript,
		[]string{s.redis.VerificationKey(id)},
		string(action), string(from),
	).Int64()
	if err != nil {
		return TransitionStateMismatch, fmt.Errorf("consume verification challenge: %w", err)
	}
	return TransitionResult(res), nil
}
