package live

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/surrealdb-sub027/cf"
	"github.com/surrealdb/surrealdb-sub027/vs"
)

func setCS(table string, n int) cf.ChangeSet {
	tm := cf.TableMutations{Table: table}
	for i := 0; i < n; i++ {
		tm.Mutations = append(tm.Mutations, cf.TableMutation{Kind: cf.MutationSet})
	}
	return cf.ChangeSet{VS: vs.New(1, 0), Database: cf.DatabaseMutation{Tables: []cf.TableMutations{tm}}}
}

func TestDispatchDeliversToMatchingSubscriber(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil, 8)
	ch := d.Register(1, "person")

	d.Dispatch(ctx, setCS("person", 2))

	ev := <-ch
	require.Equal(t, EventUpdate, ev.Kind)
	ev2 := <-ch
	require.Equal(t, EventUpdate, ev2.Kind)
}

func TestDispatchIgnoresOtherTables(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil, 8)
	ch := d.Register(1, "person")

	d.Dispatch(ctx, setCS("other", 1))

	select {
	case ev, ok := <-ch:
		t.Fatalf("expected no delivery, got %+v (ok=%v)", ev, ok)
	default:
	}
}

func TestKillClosesChannel(t *testing.T) {
	d := NewDispatcher(nil, 8)
	ch := d.Register(1, "person")

	d.Kill(1)

	ev, ok := <-ch
	require.True(t, ok)
	require.Equal(t, EventKill, ev.Kind)

	_, ok = <-ch
	require.False(t, ok)
	require.Equal(t, 0, d.Count())
}

func TestSlowSubscriberDroppedWithImplicitKill(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(nil, 2)
	ch := d.Register(1, "person")

	// Fill the channel past its bound so the dispatcher has to drop it.
	d.Dispatch(ctx, setCS("person", 3))

	require.Equal(t, 0, d.Count())

	var last Event
	for ev := range ch {
		last = ev
	}
	require.Equal(t, EventKill, last.Kind)
}

func TestRegisterReplacesPriorSubscription(t *testing.T) {
	d := NewDispatcher(nil, 4)
	first := d.Register(1, "person")
	second := d.Register(1, "person")

	_, ok := <-first
	require.False(t, ok)

	require.Equal(t, 1, d.Count())
	require.NotEqual(t, first, second)
}
