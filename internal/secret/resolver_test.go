package secret_test

import (
	"context"
	"testing"

	"github.com/flowforge/engine/internal/secret"
)

func lookupFrom(vars map[string]string) secret.GlobalVarLookup {
	return func(_ context.Context, name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
}

func TestResolve_GlobalVarSubstitution(t *testing.T) {
	r := secret.New(lookupFrom(map[string]string{"API_HOST": "api.example.com"}), secret.NewKDF(""), 10)

	got := r.Resolve(context.Background(), "https://${global:API_HOST}/v1")
	want := "https://api.example.com/v1"
	if got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r := secret.New(lookupFrom(nil), secret.NewKDF(""), 10)

	plain := "already resolved, no tokens here"
	got := r.Resolve(context.Background(), plain)
	if got != plain {
		t.Errorf("Resolve() on plain value = %q, want unchanged %q", got, plain)
	}
}

func TestResolve_EncryptedRoundTrip(t *testing.T) {
	kdf := secret.NewKDF("test-passphrase")
	cipher, err := kdf.Encrypt("sk-super-secret")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	r := secret.New(lookupFrom(nil), kdf, 10)
	got := r.Resolve(context.Background(), "encrypted:"+cipher)
	if got != "sk-super-secret" {
		t.Errorf("Resolve() = %q, want decrypted plaintext", got)
	}
}

func TestResolve_EncryptedFailedLeftAlone(t *testing.T) {
	r := secret.New(lookupFrom(nil), secret.NewKDF(""), 10)

	in := "encrypted_failed:garbage"
	got := r.Resolve(context.Background(), in)
	if got != in {
		t.Errorf("Resolve() on encrypted_failed value = %q, want unchanged %q", got, in)
	}
}

func TestResolve_UnresolvedReferenceLeftLiteral(t *testing.T) {
	r := secret.New(lookupFrom(nil), secret.NewKDF(""), 10)

	in := "${global:MISSING}"
	got := r.Resolve(context.Background(), in)
	if got != in {
		t.Errorf("Resolve() with no matching global var = %q, want literal %q", got, in)
	}
}

func TestResolve_Map(t *testing.T) {
	r := secret.New(lookupFrom(map[string]string{"X": "42"}), secret.NewKDF(""), 10)

	in := map[string]any{"a": "${global:X}", "b": []any{"${global:X}"}}
	got := r.Resolve(context.Background(), in).(map[string]any)

	if got["a"] != "42" {
		t.Errorf("Resolve() map[a] = %v, want 42", got["a"])
	}
	list := got["b"].([]any)
	if list[0] != "42" {
		t.Errorf("Resolve() map[b][0] = %v, want 42", list[0])
	}
}
