package order

import (
	"fmt"
	"testing"
	"time"
)

func TestExpiringCacheTTL(t *testing.T) {
	now := time.Now()
	c := newExpiringCache(30*time.Second, 10)
	c.now = func() time.Time { return now }

	c.put("a", newTestOrder("a"))
	if _, ok := c.get("a"); !ok {
		t.Fatal("entry missing before TTL")
	}

	now = now.Add(31 * time.Second)
	if _, ok := c.get("a"); ok {
		t.Fatal("entry survived past TTL")
	}
	if c.len() != 0 {
		t.Fatalf("len = %d after expiry", c.len())
	}
}

func TestExpiringCacheCapacityEvictsOldest(t *testing.T) {
	c := newExpiringCache(time.Minute, 3)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("ord-%d", i)
		c.put(id, newTestOrder(id))
	}
	if _, ok := c.get("ord-0"); ok {
		t.Fatal("oldest entry not evicted at capacity")
	}
	for i := 1; i < 4; i++ {
		if _, ok := c.get(fmt.Sprintf("ord-%d", i)); !ok {
			t.Fatalf("entry ord-%d evicted prematurely", i)
		}
	}
}

func TestExpiringCacheReinsertRefreshes(t *testing.T) {
	now := time.Now()
	c := newExpiringCache(30*time.Second, 10)
	c.now = func() time.Time { return now }

	c.put("a", newTestOrder("a"))
	now = now.Add(20 * time.Second)
	c.put("b", newTestOrder("b"))
	c.put("a", newTestOrder("a"))

	// Original TTL for "a" would have lapsed; the refresh keeps it alive.
	now = now.Add(15 * time.Second)
	if _, ok := c.get("a"); !ok {
		t.Fatal("refresh did not extend TTL")
	}
}

func TestExpiringCacheFind(t *testing.T) {
	c := newExpiringCache(time.Minute, 10)
	o := newTestOrder("a")
	o.ApplyOrderUpdate(OrderUpdate{ClientOrderID: "a", ExchangeOrderID: "ex-a"})
	c.put("a", o)

	got, ok := c.find(func(o *Order) bool {
		id, ok := o.ExchangeOrderID()
		return ok && id == "ex-a"
	})
	if !ok || got.ClientOrderID() != "a" {
		t.Fatal("find by exchange id failed")
	}
	if _, ok := c.find(func(*Order) bool { return false }); ok {
		t.Fatal("find matched nothing yet returned ok")
	}
}
