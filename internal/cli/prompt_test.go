package cli

import (
	"bufio"
	"io"
	"strings"
	"testing"
)

func TestReadLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("  first \nlast"))
	if got, err := readLine(r); err != nil || got != "first" {
		t.Fatalf("readLine = %q, %v", got, err)
	}
	if got, err := readLine(r); err != nil || got != "last" {
		t.Fatalf("unterminated line = %q, %v", got, err)
	}
	if _, err := readLine(r); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestConfirm(t *testing.T) {
	cases := map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
		"sure":  false,
	}
	for in, want := range cases {
		var out strings.Builder
		if got := confirm(bufio.NewReader(strings.NewReader(in)), &out, "Close?"); got != want {
			t.Fatalf("confirm(%q) = %v, want %v", in, got, want)
		}
		if !strings.Contains(out.String(), "[y/N]") {
			t.Fatalf("prompt not shown: %q", out.String())
		}
	}
}

func TestReadSecret_NonTerminal(t *testing.T) {
	var out strings.Builder
	got, err := readSecret(strings.NewReader("hunter22\n"), &out, "Password")
	if err != nil || got != "hunter22" {
		t.Fatalf("readSecret = %q, %v", got, err)
	}
	if out.String() != "Password: " {
		t.Fatalf("prompt = %q", out.String())
	}
}
