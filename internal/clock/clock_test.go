package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresWaiters(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	early := c.After(time.Second)
	late := c.After(time.Minute)

	c.Advance(2 * time.Second)

	select {
	case got := <-early:
		if !got.Equal(start.Add(2 * time.Second)) {
			t.Errorf("early fired at %v", got)
		}
	default:
		t.Fatal("early waiter did not fire")
	}

	select {
	case <-late:
		t.Fatal("late waiter fired too soon")
	default:
	}
	if c.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", c.Pending())
	}

	c.Advance(time.Minute)
	select {
	case <-late:
	default:
		t.Fatal("late waiter did not fire")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	select {
	case <-c.After(0):
	default:
		t.Fatal("After(0) should fire immediately")
	}
}
