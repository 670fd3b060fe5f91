package support

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("GEOIP_NGINX_TEST_ENV", "value")
	if got := GetEnv("GEOIP_NGINX_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("GetEnv returned %s, want value", got)
	}

	if got := GetEnv("GEOIP_NGINX_TEST_ENV_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnv returned %s, want fallback", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("GEOIP_NGINX_TEST_INT", "42")
	if got := GetEnvInt("GEOIP_NGINX_TEST_INT", 7); got != 42 {
		t.Fatalf("GetEnvInt returned %d, want 42", got)
	}

	t.Setenv("GEOIP_NGINX_TEST_INT", "not-a-number")
	if got := GetEnvInt("GEOIP_NGINX_TEST_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt returned %d, want fallback 7", got)
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("abcdef123456"); got != "abcd********" {
		t.Fatalf("MaskSecret returned %s", got)
	}

	if got := MaskSecret("abc"); got != "***" {
		t.Fatalf("MaskSecret returned %s for a short secret", got)
	}
}
