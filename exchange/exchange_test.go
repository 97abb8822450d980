package exchange

import (
	"context"
	"testing"

	"github.com/agentuity/go-exchange/logger"
	"github.com/agentuity/go-exchange/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallback(t *testing.T) {
	results, err := stream.Collect(context.Background(), Fallback(newOp(t, KindTeardown, "q", nil)))
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = stream.Collect(context.Background(), Fallback(newOp(t, KindQuery, "q", nil)))
	assert.ErrorIs(t, err, ErrNoExchange)
}

func TestComposeOrder(t *testing.T) {
	client := newFakeClient(t)
	var order []string
	stage := func(name string) Factory {
		return func(c Client, forward Exchange) Exchange {
			assert.Same(t, client, c)
			return func(op *Operation) *stream.Stream[*Result] {
				order = append(order, name)
				return forward(op)
			}
		}
	}
	terminal := func(Client, Exchange) Exchange {
		return func(op *Operation) *stream.Stream[*Result] {
			order = append(order, "terminal")
			return stream.Of(&Result{Data: item("1")})
		}
	}

	run := Compose(client, stage("a"), stage("b"), terminal)
	results := collect(t, run(newOp(t, KindQuery, "q", nil)))
	require.Len(t, results, 1)
	assert.Equal(t, []string{"a", "b", "terminal"}, order)
}

func TestComposeWithCacheExchange(t *testing.T) {
	client := newFakeClient(t)
	log := logger.NewTestLogger()
	tasks := NewTasks(context.Background(), log, 0)
	fwd := forwardResults(map[string][]*Result{"query { items }": {{Data: item("1")}}})
	fetch := func(Client, Exchange) Exchange { return fwd.exchange }

	run := Compose(client, CacheExchange(WithLogger(log), WithTasks(tasks)), fetch)
	op := newOp(t, KindQuery, "query { items }", nil)
	collect(t, run(op))
	tasks.Wait()
	collect(t, run(op))
	assert.Equal(t, 1, fwd.calls())

	_, err := stream.Collect(context.Background(), Compose(client, CacheExchange())(newOp(t, KindSubscription, "s", nil)))
	assert.ErrorIs(t, err, ErrNoExchange)
}
