package slot

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis"

	"github.com/3leaps/simrun/pkg/jobid"
)

// DefaultRedisPrefix namespaces slot keys.
const DefaultRedisPrefix = "simrun:slot:"

// releaseIfScript deletes KEYS[1] only while it still holds ARGV[1].
var releaseIfScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis is a Registry shared by every server pointed at the same Redis.
// Acquire is a single SET NX, so concurrent starters on different hosts
// cannot both win.
type Redis struct {
	db     redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ Registry = (*Redis)(nil)

// NewRedis returns a registry over db. A zero TTL means leases never expire.
func NewRedis(db redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{db: db, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(id jobid.Identity) string {
	return r.prefix + string(id)
}

func (r *Redis) Acquire(_ context.Context, id jobid.Identity, holder string) (bool, error) {
	ok, err := r.db.SetNX(r.key(id), holder, r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire slot %s: %w", id, err)
	}
	return ok, nil
}

func (r *Redis) Update(_ context.Context, id jobid.Identity, holder string) error {
	ok, err := r.db.SetXX(r.key(id), holder, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("update slot %s: %w", id, err)
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}

func (r *Redis) Release(_ context.Context, id jobid.Identity) error {
	if err := r.db.Del(r.key(id)).Err(); err != nil {
		return fmt.Errorf("release slot %s: %w", id, err)
	}
	return nil
}

func (r *Redis) ReleaseIf(_ context.Context, id jobid.Identity, holder string) (bool, error) {
	n, err := releaseIfScript.Run(r.db, []string{r.key(id)}, holder).Int64()
	if err != nil {
		return false, fmt.Errorf("release slot %s: %w", id, err)
	}
	return n == 1, nil
}

func (r *Redis) Holder(_ context.Context, id jobid.Identity) (string, bool, error) {
	holder, err := r.db.Get(r.key(id)).Result()
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, fmt.Errorf("read slot %s: %w", id, err)
	}
	return holder, true, nil
}

func (r *Redis) Occupied(ctx context.Context) ([]jobid.Identity, error) {
	var (
		out    []jobid.Identity
		cursor uint64
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		keys, next, err := r.db.Scan(cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan slots: %w", err)
		}
		out = append(out, r.identities(keys)...)
		if next == 0 {
			break
		}
		cursor = next
	}
	return dedupe(out), nil
}

func (r *Redis) identities(keys []string) []jobid.Identity {
	out := make([]jobid.Identity, 0, len(keys))
	for _, k := range keys {
		out = append(out, jobid.Identity(strings.TrimPrefix(k, r.prefix)))
	}
	return out
}

// dedupe sorts ids and drops repeats. SCAN may return a key more than once.
func dedupe(ids []jobid.Identity) []jobid.Identity {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	for i, id := range ids {
		if i > 0 && id == ids[i-1] {
			continue
		}
		out = append(out, id)
	}
	return out
}
