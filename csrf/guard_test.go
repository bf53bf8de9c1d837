package csrf

import (
	"strings"
	"sync"
	"testing"

	"github.com/mnehpets/cookieauth/secret"
)

const (
	k1 = "0123456789abcdef0123456789abcdef"
	k2 = "fedcba9876543210fedcba9876543210"
)

func TestGuard_GenerateValidate(t *testing.T) {
	ring := secret.MustRing(k1, k2)
	tok, err := Generate(ring)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	mac, payload, ok := strings.Cut(tok, ".")
	if !ok || len(mac) != 64 || payload == "" {
		t.Fatalf("unexpected token shape %q", tok)
	}
	if !Validate(tok, ring) {
		t.Fatalf("Validate rejected a fresh token")
	}
	other, _ := Generate(ring)
	if other == tok {
		t.Fatalf("tokens repeat")
	}
}

func TestGuard_Rejects(t *testing.T) {
	ring := secret.MustRing(k1)
	tok, _ := Generate(ring)
	mac, payload, _ := strings.Cut(tok, ".")

	for name, in := range map[string]string{
		"bad":          "bad.token",
		"empty":        "",
		"no dot":       mac + payload,
		"empty mac":    "." + payload,
		"empty data":   mac + ".",
		"payload edit": mac + "." + payload + "x",
		"mac edit":     strings.Repeat("0", 64) + "." + payload,
		"oversized":    mac + "." + strings.Repeat("a", 1024),
	} {
		if Validate(in, ring) {
			t.Errorf("%s: Validate accepted %q", name, in)
		}
	}
}

func TestGuard_Rotation(t *testing.T) {
	old, _ := Generate(secret.MustRing(k1))
	if !Validate(old, secret.MustRing(k2, k1)) {
		t.Fatalf("token from rotated-out current key rejected while key still in ring")
	}
	if Validate(old, secret.MustRing(k2)) {
		t.Fatalf("token accepted after its key was removed")
	}
}

func TestGuard_Concurrent(t *testing.T) {
	g := NewGuard(secret.MustRing(k1, k2))
	var wg sync.WaitGroup
	errs := make(chan string, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := g.Generate()
			if err != nil || !g.Validate(tok) {
				errs <- tok
			}
		}()
	}
	wg.Wait()
	close(errs)
	for tok := range errs {
		t.Errorf("concurrent round trip failed for %q", tok)
	}
}
