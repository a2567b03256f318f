package httpx

import (
	"testing"
	"time"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)

	if !rl.allow("1.2.3.4") {
		t.Fatal("first request should pass")
	}
	if !rl.allow("1.2.3.4") {
		t.Fatal("second request should pass")
	}
	if rl.allow("1.2.3.4") {
		t.Fatal("third request should be limited")
	}
	if !rl.allow("5.6.7.8") {
		t.Fatal("different client should not be limited")
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := NewRateLimiter(1, time.Millisecond)
	if !rl.allow("1.2.3.4") {
		t.Fatal("first request should pass")
	}
	time.Sleep(5 * time.Millisecond)
	if !rl.allow("1.2.3.4") {
		t.Fatal("request after window reset should pass")
	}
}
