package shared

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSaveableName(t *testing.T) {
	tc := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain name", input: "Road Trip", want: "Road Trip"},
		{name: "forward slashes", input: "AC/DC / Best Of", want: "AC_DC _ Best Of"},
		{name: "dot only", input: ".", want: "_"},
		{name: "parent dir", input: "..", want: "__"},
		{name: "dots inside name are kept", input: "Vol. 2", want: "Vol. 2"},
		{name: "slash and dots", input: "../x", want: ".._x"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := SaveableName(tt.input); got != tt.want {
				t.Errorf("SaveableName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFormatElapsed(t *testing.T) {
	got := FormatElapsed(62*time.Second + 345678*time.Microsecond)
	if got != "1m2.346s" {
		t.Errorf("FormatElapsed() = %v, want 1m2.346s", got)
	}
}

func TestMarshalJSON(t *testing.T) {
	t.Run("compact", func(t *testing.T) {
		data, err := MarshalJSON(map[string]int{"a": 1}, false)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != `{"a":1}` {
			t.Errorf("got %s", data)
		}
	})

	t.Run("pretty", func(t *testing.T) {
		data, err := MarshalJSON(map[string]int{"a": 1}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(data) != "{\n  \"a\": 1\n}" {
			t.Errorf("got %s", data)
		}
	})
}

func TestErrors(t *testing.T) {
	t.Run("RemoteError matches sentinel", func(t *testing.T) {
		err := fmt.Errorf("listing: %w", &RemoteError{Endpoint: "/me/playlists", Status: 502})
		if !errors.Is(err, ErrRemoteService) {
			t.Error("expected errors.Is to match ErrRemoteService")
		}

		re, ok := IsRemote(err)
		if !ok {
			t.Fatal("expected IsRemote to find the RemoteError")
		}
		if re.Status != 502 || re.Endpoint != "/me/playlists" {
			t.Errorf("unexpected remote error fields: %+v", re)
		}
	})

	t.Run("RemoteError without status", func(t *testing.T) {
		err := &RemoteError{Endpoint: "/x", Err: errors.New("connection refused")}
		if got := err.Error(); got != "remote service error: /x: connection refused" {
			t.Errorf("unexpected message %q", got)
		}
	})

	t.Run("MalformedEntityError matches sentinel", func(t *testing.T) {
		err := &MalformedEntityError{Index: 3, Field: "track.name"}
		if !errors.Is(err, ErrMalformedEntity) {
			t.Error("expected errors.Is to match ErrMalformedEntity")
		}
		if errors.Is(err, ErrRemoteService) {
			t.Error("malformed entity should not match ErrRemoteService")
		}
		if got := err.Error(); got != "malformed entity: item 3: missing track.name" {
			t.Errorf("unexpected message %q", got)
		}
	})
}
