package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// leaseTTL bounds how long a schedule lock survives an orchestrator crash
// mid-scan, per spec.md §9's "lease TTL" wording.
const leaseTTL = 10 * time.Minute

// ScheduleLock is the per-schedule mutual-exclusion primitive spec.md §9
// leaves implementation-local. Acquire reports false immediately rather than
// blocking when the lock is already held, matching ErrScheduleAlreadyRunning's
// semantics at the runSchedule call site.
type ScheduleLock interface {
	Acquire(ctx context.Context, scheduleID string) (release func(), acquired bool, err error)
}

// inProcessLock is the default: a process-wide sync.Map test-and-set. This
// is sufficient for a single orchestrator instance and requires no external
// dependency.
type inProcessLock struct {
	held sync.Map // scheduleId -> struct{}
}

// NewInProcessLock returns the single-instance ScheduleLock.
func NewInProcessLock() ScheduleLock {
	return &inProcessLock{}
}

func (l *inProcessLock) Acquire(ctx context.Context, scheduleID string) (func(), bool, error) {
	if _, alreadyHeld := l.held.LoadOrStore(scheduleID, struct{}{}); alreadyHeld {
		return nil, false, nil
	}
	return func() { l.held.Delete(scheduleID) }, true, nil
}

// redisLockRelease is a compare-and-delete Lua script: only the holder that
// set the token may release it, so a lease that outlived its TTL and was
// reacquired by another instance is never deleted out from under it.
const redisLockRelease = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisAPI is the subset of the go-redis client the distributed lock needs.
type RedisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// redisLock is the multi-instance fallback spec.md §9 describes as "an
// external compare-and-swap... a sentinel record keyed by scheduleId with a
// lease TTL" — a SET NX PX lease released by a compare-and-delete script.
type redisLock struct {
	client RedisAPI
	prefix string
}

// NewRedisLock returns the multi-instance ScheduleLock backed by client.
func NewRedisLock(client RedisAPI) ScheduleLock {
	return &redisLock{client: client, prefix: "hiberctl:schedule-lock:"}
}

func (l *redisLock) Acquire(ctx context.Context, scheduleID string) (func(), bool, error) {
	token, err := randomToken()
	if err != nil {
		return nil, false, err
	}

	key := l.prefix + scheduleID
	acquired, err := l.client.SetNX(ctx, key, token, leaseTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.client.Eval(releaseCtx, redisLockRelease, []string{key}, token)
	}
	return release, true, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
