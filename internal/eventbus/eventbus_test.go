package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ N int }
type pong struct{}

func TestBus_DeliversByType(t *testing.T) {
	b := New()
	var a, c []int
	unA := SubscribeTo(b, func(_ context.Context, e ping) { a = append(a, e.N) })
	SubscribeTo(b, func(_ context.Context, e ping) { c = append(c, e.N) })
	SubscribeTo(b, func(_ context.Context, _ pong) { t.Fatal("pong handler called for ping") })

	b.emit(context.Background(), ping{N: 1})
	unA()
	unA()
	b.emit(context.Background(), ping{N: 2})

	require.Equal(t, []int{1}, a)
	require.Equal(t, []int{1, 2}, c)
}

func TestGlobal_DisabledByDefault(t *testing.T) {
	Use(nil)
	called := false
	Subscribe(func(context.Context, ping) { called = true })
	Publish(context.Background(), ping{})
	require.False(t, called)

	Use(New())
	defer Use(nil)
	Subscribe(func(context.Context, ping) { called = true })
	Publish(context.Background(), ping{})
	require.True(t, called)
}
