package keeper_test

import (
	"testing"
	"time"

	"github.com/seantiz/stoker/internal/keeper"
)

func publish(b *keeper.EventBroker, key, evType string) {
	b.Publish(key, keeper.Event{Type: evType, TaskKey: key, Time: time.Now()})
}

func TestBrokerSingleSubscriber(t *testing.T) {
	b := keeper.NewEventBroker()
	ch, unsub := b.Subscribe("work_cs-one")
	defer unsub()

	types := []string{keeper.EventChecked, keeper.EventRestarted, keeper.EventExpired}
	for _, typ := range types {
		publish(b, "work_cs-one", typ)
	}
	b.Close("work_cs-one")

	var got []string
	for ev := range ch {
		got = append(got, ev.Type)
	}

	if len(got) != len(types) {
		t.Fatalf("got %d events, want %d", len(got), len(types))
	}
	for i, typ := range got {
		if typ != types[i] {
			t.Errorf("event[%d] = %q, want %q", i, typ, types[i])
		}
	}
}

func TestBrokerMultipleSubscribers(t *testing.T) {
	b := keeper.NewEventBroker()
	ch1, unsub1 := b.Subscribe("work_cs-one")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("work_cs-one")
	defer unsub2()

	publish(b, "work_cs-one", keeper.EventChecked)
	b.Close("work_cs-one")

	for i, ch := range []<-chan keeper.Event{ch1, ch2} {
		var got []keeper.Event
		for ev := range ch {
			got = append(got, ev)
		}
		if len(got) != 1 || got[0].Type != keeper.EventChecked {
			t.Errorf("subscriber %d got %v, want one checked event", i+1, got)
		}
	}
}

func TestBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := keeper.NewEventBroker()
	publish(b, "work_cs-one", keeper.EventChecked)
	b.Close("work_cs-one")

	ch, unsub := b.Subscribe("work_cs-one")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := keeper.NewEventBroker()
	ch, unsub := b.Subscribe("work_cs-one")
	unsub()

	publish(b, "work_cs-one", keeper.EventChecked)
	b.Close("work_cs-one")

	select {
	case ev, ok := <-ch:
		if ok {
			t.Errorf("got unexpected event %q after unsubscribe", ev.Type)
		}
	default:
		// No data — expected.
	}
}

func TestBrokerPublishToUnknownKeyIsNoop(t *testing.T) {
	b := keeper.NewEventBroker()
	// Should not panic.
	publish(b, "nonexistent", keeper.EventChecked)
	b.Close("nonexistent")
}

func TestBrokerResetReopensClosedTopic(t *testing.T) {
	b := keeper.NewEventBroker()
	b.Close("work_cs-one")
	b.Reset("work_cs-one")

	ch, unsub := b.Subscribe("work_cs-one")
	defer unsub()

	publish(b, "work_cs-one", keeper.EventTracked)

	select {
	case ev := <-ch:
		if ev.Type != keeper.EventTracked {
			t.Errorf("event = %q, want tracked", ev.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after Reset")
	}
}
