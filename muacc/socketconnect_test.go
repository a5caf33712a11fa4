package muacc

import "testing"

func TestParseURLDefaultsPortByScheme(t *testing.T) {
	host, port, err := parseURL("http://example.org/path")
	if err != nil {
		t.Fatalf("parseURL: %v", err)
	}
	if host != "example.org" || port != 80 {
		t.Fatalf("got host=%q port=%d, want example.org:80", host, port)
	}
}

func TestParseURLExplicitPort(t *testing.T) {
	host, port, err := parseURL("https://example.org:8443/")
	if err != nil {
		t.Fatalf("parseURL: %v", err)
	}
	if host != "example.org" || port != 8443 {
		t.Fatalf("got host=%q port=%d, want example.org:8443", host, port)
	}
}

func TestParseURLNoHost(t *testing.T) {
	if _, _, err := parseURL("/just/a/path"); err == nil {
		t.Fatal("expected error for hostless url")
	}
}

func TestParseURLUnknownSchemeNoPort(t *testing.T) {
	host, port, err := parseURL("foo://bar.example")
	if err != nil {
		t.Fatalf("parseURL: %v", err)
	}
	if host != "bar.example" || port != 0 {
		t.Fatalf("got host=%q port=%d, want bar.example:0", host, port)
	}
}
