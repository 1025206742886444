package crypto

import (
	"errors"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealerFromPassphrase("test-passphrase")
	if err != nil {
		t.Fatal(err)
	}

	inputs := []string{
		"cached model response",
		`{"response":"hello","tokens":42}`,
		"unicode: こんにちは 🙂",
		"",
	}
	for _, in := range inputs {
		sealed, err := s.Seal(in)
		if err != nil {
			t.Fatalf("Seal(%q) error: %v", in, err)
		}
		if in != "" && sealed == in {
			t.Errorf("ciphertext equals plaintext for %q", in)
		}
		got, err := s.Open(sealed)
		if err != nil {
			t.Fatalf("Open error: %v", err)
		}
		if got != in {
			t.Errorf("round trip mismatch: got %q want %q", got, in)
		}
	}
}

func TestWrongPassphraseFailsAuthentication(t *testing.T) {
	a, _ := NewSealerFromPassphrase("correct horse")
	b, _ := NewSealerFromPassphrase("battery staple")

	sealed, err := a.Seal("secret payload")
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.Open(sealed)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestPassphraseDerivationIsDeterministic(t *testing.T) {
	a, _ := NewSealerFromPassphrase("shared")
	b, _ := NewSealerFromPassphrase("shared")

	if a.KeyID() != b.KeyID() {
		t.Errorf("same passphrase should derive same key: %s vs %s", a.KeyID(), b.KeyID())
	}

	sealed, _ := a.Seal("payload")
	got, err := b.Open(sealed)
	if err != nil || got != "payload" {
		t.Errorf("cross-instance decrypt failed: %q, %v", got, err)
	}
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	if _, err := NewSealer(make([]byte, 15)); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := NewSealerFromPassphrase(""); err == nil {
		t.Error("expected error for empty passphrase")
	}
}

func TestOpenRejectsMalformedCiphertext(t *testing.T) {
	s, _ := NewSealerFromPassphrase("k")

	if _, err := s.Open("not-base64!!!"); err == nil {
		t.Error("expected decode error")
	}
	if _, err := s.Open("c2hvcnQ="); !errors.Is(err, ErrInvalidCiphertext) {
		t.Errorf("expected ErrInvalidCiphertext, got %v", err)
	}
}
