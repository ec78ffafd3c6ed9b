package util

import "testing"

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		secret string
		want   string
	}{
		{"empty", "", ""},
		{"short secret stays visible", "sk-1234", "sk-1234"},
		{"exactly eight chars is masked", "sk-12345", "sk-...2345"},
		{"typical key", "sk-abcdefghij1234", "sk-...1234"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MaskSecret(tc.secret); got != tc.want {
				t.Fatalf("MaskSecret(%q) = %q, want %q", tc.secret, got, tc.want)
			}
		})
	}
}
