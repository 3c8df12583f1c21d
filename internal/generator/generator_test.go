package generator_test

import (
	"encoding/base64"
	"regexp"
	"sync"
	"testing"

	"github.com/glizzus/srs-radio/internal/generator"
)

func TestUUIDV4Generator_Next_Concurrent(t *testing.T) {
	regex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	gen := generator.UUIDV4Generator{}

	var mu sync.Mutex
	seen := make(map[string]struct{})

	total := 100000
	concurrency := 10
	batchSize := total / concurrency

	var wg sync.WaitGroup
	wg.Add(concurrency)

	for range concurrency {
		go func() {
			defer wg.Done()
			for range batchSize {
				id, err := gen.Next()
				if err != nil {
					t.Error("expected no error, got:", err)
					return
				}
				mu.Lock()
				if _, ok := seen[id]; ok {
					mu.Unlock()
					t.Errorf("expected a unique ID, got duplicate: %s", id)
					return
				}
				seen[id] = struct{}{}
				mu.Unlock()

				if !regex.MatchString(id) {
					t.Errorf("expected valid UUID format, got %s", id)
					return
				}
			}
		}()
	}

	wg.Wait()
}

func TestClientGUIDGenerator_Next(t *testing.T) {
	regex := regexp.MustCompile(`^[A-Za-z0-9_-]{22}$`)
	gen := generator.ClientGUIDGenerator{}

	seen := make(map[string]struct{})
	for range 10000 {
		id, err := gen.Next()
		if err != nil {
			t.Fatal("expected no error, got:", err)
		}
		if !regex.MatchString(id) {
			t.Fatalf("expected a 22 character URL-safe GUID, got %q", id)
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("expected a unique GUID, got duplicate: %s", id)
		}
		seen[id] = struct{}{}

		raw, err := base64.RawURLEncoding.DecodeString(id)
		if err != nil {
			t.Fatalf("GUID %q is not base64: %v", id, err)
		}
		// version 4, RFC 4122 variant
		if raw[6]>>4 != 4 || raw[8]>>6 != 2 {
			t.Fatalf("GUID %q does not encode a UUIDv4", id)
		}
	}
}
