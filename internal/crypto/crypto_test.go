package crypto

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSignKnownVector(t *testing.T) {
	// Example from the Binance signed endpoint documentation.
	secret := "NhqPtmdSJYdKjVHjA7PZj4Mge3R5YNiP1e3UZjInClVN65XAbvqqM6A7H5fATj0j"
	payload := "symbol=LTCBTC&side=BUY&type=LIMIT&timeInForce=GTC&quantity=1&price=0.1&recvWindow=5000&timestamp=1499827319559"
	want := "c8db56825ae71d6d79447849e617115f4a920fa2acdcab2b053c4b2838bd6b71"
	if got := Sign(secret, payload); got != want {
		t.Fatalf("Sign = %s, want %s", got, want)
	}
}

func TestSignQuery(t *testing.T) {
	params := url.Values{"symbol": {"BTCUSDT"}}
	now := time.UnixMilli(1700000000123)
	q := SignQuery("s3cret", params, now, 5*time.Second)

	encoded, sig, ok := strings.Cut(q, "&signature=")
	if !ok {
		t.Fatalf("no signature in %q", q)
	}
	if sig != Sign("s3cret", encoded) {
		t.Fatal("signature does not cover the encoded query")
	}
	vals, err := url.ParseQuery(encoded)
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	if vals.Get("timestamp") != "1700000000123" || vals.Get("recvWindow") != "5000" {
		t.Fatalf("query = %v", vals)
	}
	if params.Has("timestamp") {
		t.Fatal("input params were modified")
	}
}

func TestSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("api-secret-value", "pw")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	if strings.Contains(string(blob), "api-secret-value") {
		t.Fatal("plaintext in blob")
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if got != "api-secret-value" {
		t.Fatalf("secret = %q", got)
	}
	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Fatal("wrong password decrypted")
	}
}

func TestLoadSecretPrefersRaw(t *testing.T) {
	got, err := LoadSecret(SecretConfig{Raw: "raw", EncryptedPath: "/does/not/exist"})
	if err != nil || got != "raw" {
		t.Fatalf("LoadSecret = %q, %v", got, err)
	}
	if _, err := LoadSecret(SecretConfig{}); err == nil {
		t.Fatal("empty config should fail")
	}
}

func TestCredentialsRedacted(t *testing.T) {
	s := Credentials{Key: "ABCDEFGH", Secret: "supersecret"}.String()
	if strings.Contains(s, "EFGH") || !strings.Contains(s, "secret=supe") {
		t.Fatalf("String = %q", s)
	}
}
