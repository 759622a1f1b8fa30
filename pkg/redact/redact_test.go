package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmail(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"long_local", "foobar@example.com", "fo***@example.com"},
		{"short_local", "ab@ex.com", "***@ex.com"},
		{"empty_domain", "user@", "us***@"},
		{"no_at", "no-at", "***"},
		{"two_ats", "a@b@c", "***"},
		{"unicode_local", "юзер@example.com", "юз***@example.com"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Email(tc.in))
		})
	}
}

func TestIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"ipv4", "203.0.113.17", "203.0.113.*"},
		{"ipv4_mapped", "::ffff:203.0.113.17", "203.0.113.*"},
		{"ipv6", "2001:db8::1", "2001:db8:*"},
		{"garbage", "garbage", "***"},
		{"empty", "", "***"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IP(tc.in))
		})
	}
}
