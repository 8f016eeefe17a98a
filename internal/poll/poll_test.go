package poll

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestUntilNeverSatisfied(t *testing.T) {
	reads := 0
	var waits []time.Duration
	res, err := Until(context.Background(), func(context.Context) (int, error) {
		reads++
		return reads, nil
	}, func(int) bool { return false }, 5, 1500*time.Millisecond, WithSleep(func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}))
	require.NoError(t, err)
	assert.Equal(t, 5, reads)
	assert.Equal(t, 5, res.Attempts)
	assert.False(t, res.Satisfied)
	assert.Equal(t, 5, res.Value, "last observed value is returned")
	assert.Len(t, waits, 4)
	for _, w := range waits {
		assert.Equal(t, 1500*time.Millisecond, w)
	}
}

func TestUntilStopsWhenSatisfied(t *testing.T) {
	reads := 0
	res, err := Until(context.Background(), func(context.Context) (int, error) {
		reads++
		return reads * 10, nil
	}, func(v int) bool { return v >= 30 }, 5, time.Second, WithSleep(noSleep))
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
	assert.Equal(t, 3, reads)
	assert.Equal(t, 30, res.Value)
}

func TestUntilReadErrorsCountAsAttempts(t *testing.T) {
	boom := errors.New("eventual read failed")
	reads := 0
	res, err := Until(context.Background(), func(context.Context) (string, error) {
		reads++
		return "", boom
	}, func(string) bool { return true }, 3, time.Millisecond, WithSleep(noSleep))
	require.NoError(t, err)
	assert.Equal(t, 3, reads)
	assert.False(t, res.Satisfied)
	assert.ErrorIs(t, res.LastErr, boom)
}

func TestUntilContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reads := 0
	_, err := Until(ctx, func(context.Context) (int, error) {
		reads++
		cancel()
		return 0, nil
	}, func(int) bool { return false }, 5, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, reads)
}

func TestPredicates(t *testing.T) {
	doc := json.RawMessage(`{"post":{"likes":4,"liked_by_me":true,"title":"Hi"}}`)

	assert.True(t, FieldEquals("post.liked_by_me", "true")(doc))
	assert.False(t, FieldEquals("post.title", "Bye")(doc))
	assert.False(t, FieldEquals("post.missing", "")(doc))

	assert.True(t, FieldAtLeast("post.likes", 4)(doc))
	assert.False(t, FieldAtLeast("post.likes", 5)(doc))
	assert.False(t, FieldAtLeast("post.title", 0)(doc))

	changed := FieldChanged("post.likes", json.RawMessage(`{"post":{"likes":3}}`))
	assert.True(t, changed(doc))
	assert.False(t, changed(json.RawMessage(`{"post":{"likes":3}}`)))
	assert.False(t, FieldChanged("x", nil)(doc))
	assert.True(t, FieldChanged("post.deleted", nil)(json.RawMessage(`{"post":{"deleted":true}}`)))

	assert.Equal(t, "Hi", Field(doc, "post.title"))
}

func TestUntilWithJSONPredicate(t *testing.T) {
	bodies := []string{`{"likes":3}`, `{"likes":3}`, `{"likes":4}`}
	i := 0
	res, err := Until(context.Background(), func(context.Context) (json.RawMessage, error) {
		b := bodies[i]
		i++
		return json.RawMessage(b), nil
	}, FieldAtLeast("likes", 4), 5, time.Millisecond, WithSleep(noSleep))
	require.NoError(t, err)
	assert.True(t, res.Satisfied)
	assert.Equal(t, 3, res.Attempts)
}
