package id

import "testing"

func TestSlug(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		prefix string
		want   string
	}{
		{name: "strips prefix", id: "https://doi.org/TEST/WKT-SQB-ZNC", prefix: "TEST", want: "WKT-SQB-ZNC"},
		{name: "trailing slash on prefix", id: "https://doi.org/TEST/WKT-SQB-ZNC", prefix: "TEST/", want: "WKT-SQB-ZNC"},
		{name: "other prefix left alone", id: "https://doi.org/10.3535/WKT-SQB-ZNC", prefix: "TEST", want: "https://doi.org/10.3535/WKT-SQB-ZNC"},
		{name: "bare handle left alone", id: "TEST/WKT-SQB-ZNC", prefix: "TEST", want: "TEST/WKT-SQB-ZNC"},
		{name: "empty prefix", id: "https://doi.org/TEST/WKT-SQB-ZNC", prefix: "", want: "https://doi.org/TEST/WKT-SQB-ZNC"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Slug(tc.id, tc.prefix); got != tc.want {
				t.Fatalf("Slug(%q, %q) = %q, want %q", tc.id, tc.prefix, got, tc.want)
			}
		})
	}
}

func TestHandle(t *testing.T) {
	if got := Handle("https://doi.org/TEST/WKT-SQB-ZNC"); got != "TEST/WKT-SQB-ZNC" {
		t.Fatalf("unexpected handle %q", got)
	}
	if got := Handle("TEST/WKT-SQB-ZNC"); got != "TEST/WKT-SQB-ZNC" {
		t.Fatalf("expected bare handle unchanged, got %q", got)
	}
}

func TestNewIsUnique(t *testing.T) {
	a, b := New(), New()
	if a == "" || a == b {
		t.Fatalf("expected two distinct ids, got %q and %q", a, b)
	}
}
