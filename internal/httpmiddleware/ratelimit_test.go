package httpmiddleware

import (
	"testing"
	"time"
)

func TestTokenBucketCapacityAndRefill(t *testing.T) {
	l := NewSimpleTokenBucket(3, 60)
	now := time.Now()

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1", now) {
			t.Fatalf("request %d denied within capacity", i+1)
		}
	}
	if l.allow("10.0.0.1", now) {
		t.Fatal("request allowed past capacity")
	}
	if !l.allow("10.0.0.2", now) {
		t.Fatal("unrelated client throttled")
	}

	// One token per second at 60/min.
	if !l.allow("10.0.0.1", now.Add(time.Second)) {
		t.Fatal("request denied after refill")
	}
}

func TestTokenBucketEvictsIdleClients(t *testing.T) {
	l := NewSimpleTokenBucket(5, 60)
	now := time.Now()

	l.allow("10.0.0.1", now)
	l.allow("10.0.0.2", now)
	l.allow("10.0.0.2", now.Add(staleAfter))

	l.allow("10.0.0.3", now.Add(2*staleAfter+time.Minute))
	if _, ok := l.state["10.0.0.1"]; ok {
		t.Fatal("idle bucket survived eviction")
	}
	if _, ok := l.state["10.0.0.3"]; !ok {
		t.Fatal("active bucket evicted")
	}
}
