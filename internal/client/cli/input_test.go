package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("  J-17 \n"), "Job?", &out)
	if err != nil || got != "J-17" {
		t.Fatalf("got %q, err=%v", got, err)
	}
	if out.String() != "Job?\n> " {
		t.Fatalf("prompt %q", out.String())
	}
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	if err != nil || got != "lastline" {
		t.Fatalf("got %q, err=%v", got, err)
	}

	_, err = GetSimpleText(rdr(""), "Name?", &out)
	if err == nil {
		t.Fatal("expected EOF")
	}
}

func TestGetSecret_PipedInput(t *testing.T) {
	oldTerm := isTerminal
	t.Cleanup(func() { isTerminal = oldTerm })
	isTerminal = func(int) bool { return false }

	var out bytes.Buffer
	got, err := GetSecret(rdr("tok-123\n"), "Access token", &out)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", got)
}

func TestGetSecret_Terminal(t *testing.T) {
	oldTerm, oldRead := isTerminal, readPassword
	t.Cleanup(func() { isTerminal, readPassword = oldTerm, oldRead })
	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) { return []byte("tok-456\n"), nil }

	var out bytes.Buffer
	got, err := GetSecret(rdr("ignored\n"), "Access token", &out)
	require.NoError(t, err)
	assert.Equal(t, "tok-456", got)
	assert.Equal(t, "Access token: \n", out.String())
}

func TestGetSecret_Error(t *testing.T) {
	oldTerm, oldRead := isTerminal, readPassword
	t.Cleanup(func() { isTerminal, readPassword = oldTerm, oldRead })
	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) {
		return nil, errors.New("boom")
	}

	var out bytes.Buffer
	_, err := GetSecret(rdr(""), "Access token", &out)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestGetMultiline(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Unix newlines, stop on empty line",
			input:    "flue stained\nneeds sweep\n\n",
			expected: "flue stained\nneeds sweep",
		},
		{
			name:     "Windows CRLF, stop on empty line",
			input:    "a\r\nb\r\n\r\n",
			expected: "a\nb",
		},
		{
			name:     "Immediate blank line gives empty text",
			input:    "\n",
			expected: "",
		},
		{
			name:     "EOF without trailing blank line",
			input:    "a\nb",
			expected: "a\nb",
		},
		{
			name:     "Lines after the blank line are left unread",
			input:    "a\n\nb\n",
			expected: "a",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := GetMultiline(rdr(tc.input), "Notes", &out)
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}
