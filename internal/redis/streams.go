package redisx

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/rishansujesh/ads-warehouse/internal/notify"
)

// Stream names used by default.
const (
	InsightsStream = "etl:insights"
	FailuresStream = "etl:failures"
)

// streamMaxLen caps each stream; trimming is approximate.
const streamMaxLen = 10000

// XAddJSON appends v as a single "data" field.
func XAddJSON(ctx context.Context, rdb redis.Cmdable, stream string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{"data": string(b)},
	}).Result()
}

// XAddAllJSON appends every item in one pipeline and returns the ids.
func XAddAllJSON[T any](ctx context.Context, rdb redis.Cmdable, stream string, items []T) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	cmds := make([]*redis.StringCmd, 0, len(items))
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, it := range items {
			b, err := json.Marshal(it)
			if err != nil {
				return err
			}
			cmds = append(cmds, p.XAdd(ctx, &redis.XAddArgs{
				Stream: stream,
				MaxLen: streamMaxLen,
				Approx: true,
				ID:     "*",
				Values: map[string]any{"data": string(b)},
			}))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(cmds))
	for _, c := range cmds {
		ids = append(ids, c.Val())
	}
	return ids, nil
}

// ReadJSON returns the newest n entries of a stream, newest first, decoded
// into T.
func ReadJSON[T any](ctx context.Context, rdb redis.Cmdable, stream string, n int64) ([]T, error) {
	msgs, err := rdb.XRevRangeN(ctx, stream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(msgs))
	for _, m := range msgs {
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// FailureSink appends terminal job failures to a stream for other
// consumers to pick up.
type FailureSink struct {
	RDB    redis.Cmdable
	Stream string
}

var _ notify.Sink = FailureSink{}

func (s FailureSink) SendJobFailure(ctx context.Context, f notify.JobFailure) error {
	stream := s.Stream
	if stream == "" {
		stream = FailuresStream
	}
	_, err := XAddJSON(ctx, s.RDB, stream, f)
	return err
}
