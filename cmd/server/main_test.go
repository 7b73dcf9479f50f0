package main

import (
	"testing"

	"fixdesk/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", AccessTokenTTLMinutes: 60},
		{AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTLMinutes: 7 * 24 * 60},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected config %+v to be rejected", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", AccessTokenTTLMinutes: 480})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
