package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTokenBucket_ConsumesCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("token %d: want allowed", i)
		}
	}
	if b.Allow(1) {
		t.Fatal("bucket empty: want denied")
	}
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 2, 2)

	if !b.Allow(2) {
		t.Fatal("initial capacity: want allowed")
	}
	if b.Allow(1) {
		t.Fatal("empty: want denied")
	}

	clock.Advance(500 * time.Millisecond) // refills 1 token at 2/s
	if !b.Allow(1) {
		t.Fatal("after refill: want allowed")
	}
	if b.Allow(1) {
		t.Fatal("refill consumed: want denied")
	}
}

func TestTokenBucket_ClampsToCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 2, 100)

	clock.Advance(time.Hour)
	if !b.Allow(2) {
		t.Fatal("full bucket: want allowed")
	}
	if b.Allow(1) {
		t.Fatal("capacity is 2: want denied")
	}
}

func TestTokenBucket_TimeGoingBackwards(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 1, 1)

	if !b.Allow(1) {
		t.Fatal("want allowed")
	}
	clock.Advance(-time.Minute)
	if b.Allow(1) {
		t.Fatal("no refill on backwards clock: want denied")
	}
}

func TestTokenBucket_NonPositiveCost(t *testing.T) {
	b := NewTokenBucket(&fakeClock{now: time.Unix(1000, 0)}, 0, 0)
	if !b.Allow(0) {
		t.Fatal("zero cost: want allowed")
	}
	if !b.Allow(-5) {
		t.Fatal("negative cost: want allowed")
	}
}
