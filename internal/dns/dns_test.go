package dns

import (
	"context"
	"testing"
)

func TestLookupPassesIPLiterals(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "::1", "10.1.2.3"} {
		got, err := LookupContext(context.Background(), ip)
		if err != nil || got != ip {
			t.Errorf("LookupContext(%s) = %s, %v", ip, got, err)
		}
	}
}

func TestLookupLocalhost(t *testing.T) {
	ip, err := Lookup("localhost")
	if err != nil {
		t.Skipf("no resolver for localhost in this environment: %v", err)
	}
	if ip == "" {
		t.Fatal("empty address")
	}
}

func TestTrimBrackets(t *testing.T) {
	if got := trimBrackets("[2606:4700:4700::1111]"); got != "2606:4700:4700::1111" {
		t.Errorf("got %s", got)
	}
	if got := trimBrackets("1.1.1.1"); got != "1.1.1.1" {
		t.Errorf("got %s", got)
	}
}
