package results

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	args []*redis.XAddArgs
	err  error
}

func (f *fakeStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.args = append(f.args, a)
	return redis.NewStringResult("1700000000000-0", f.err)
}

func TestRedisStream_Write(t *testing.T) {
	client := &fakeStream{}
	sink := NewRedisStream(client, "", 1000)

	err := sink.Write(context.Background(), &Record{RunID: "run-1", ID: "cm/1", Correct: 1, Status: "success", Attempts: 1})
	require.NoError(t, err)
	require.Len(t, client.args, 1)

	a := client.args[0]
	assert.Equal(t, DefaultStream, a.Stream)
	assert.Equal(t, int64(1000), a.MaxLen)
	assert.True(t, a.Approx)

	values := a.Values.(map[string]any)
	assert.Equal(t, "run-1", values["run_id"])
	assert.Equal(t, "cm/1", values["id"])
	assert.Equal(t, 1, values["correct"])
}

func TestRedisStream_NoTrimming(t *testing.T) {
	client := &fakeStream{}
	require.NoError(t, NewRedisStream(client, "custom", 0).Write(context.Background(), &Record{}))
	assert.Equal(t, "custom", client.args[0].Stream)
	assert.Zero(t, client.args[0].MaxLen)
}

func TestRedisStream_Error(t *testing.T) {
	client := &fakeStream{err: errors.New("NOAUTH")}
	err := NewRedisStream(client, "s", 0).Write(context.Background(), &Record{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xadd s")
}
