package patcher_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/wippyai/wasmonkey/patcher"
)

func TestBuiltinsMapInsert(t *testing.T) {
	bm := patcher.NewBuiltinsMap()
	if !bm.Insert("b", "builtin_b") || !bm.Insert("a", "builtin_a") {
		t.Fatal("Insert rejected a new key")
	}
	if bm.Insert("b", "other") {
		t.Error("Insert accepted a duplicate key")
	}
	if got, _ := bm.Lookup("b"); got != "builtin_b" {
		t.Errorf("Lookup(b) = %q, want builtin_b", got)
	}
	if _, ok := bm.Lookup("c"); ok {
		t.Error("Lookup(c) found an entry")
	}
	want := []patcher.BuiltinsMapEntry{{Original: "b", Import: "builtin_b"}, {Original: "a", Import: "builtin_a"}}
	if got := bm.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("Entries = %+v, want %+v", got, want)
	}
}

func TestBuiltinsMapEncode(t *testing.T) {
	bm := patcher.NewBuiltinsMap()
	bm.Insert("b", "builtin_b")
	bm.Insert("a", "builtin_a")

	tests := []struct {
		name          string
		want          string
		originalNames bool
	}{
		{
			name:          "original names as keys",
			originalNames: true,
			want:          "{\n    \"env\": {\n        \"a\": \"builtin_a\",\n        \"b\": \"builtin_b\"\n    }\n}\n",
		},
		{
			name: "import names as keys",
			want: "{\n    \"env\": {\n        \"builtin_a\": \"a\",\n        \"builtin_b\": \"b\"\n    }\n}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := bm.Encode(tt.originalNames)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Encode = %q, want %q", data, tt.want)
			}
		})
	}
}

func TestBuiltinsMapEncodeEmpty(t *testing.T) {
	data, err := patcher.NewBuiltinsMap().Encode(false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if want := "{\n    \"env\": {}\n}\n"; string(data) != want {
		t.Errorf("Encode = %q, want %q", data, want)
	}
}

func TestBuiltinsMapWriteFileReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "map.json")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	bm := patcher.NewBuiltinsMap()
	bm.Insert("foo", "builtin_foo")
	if err := bm.WriteFile(path, false); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if want := "{\n    \"env\": {\n        \"builtin_foo\": \"foo\"\n    }\n}\n"; string(data) != want {
		t.Errorf("map = %q, want %q", data, want)
	}
}

func TestBuiltinsMapWriteFileMissingDir(t *testing.T) {
	bm := patcher.NewBuiltinsMap()
	err := bm.WriteFile(filepath.Join(t.TempDir(), "no", "such", "map.json"), true)
	if err == nil {
		t.Fatal("WriteFile into a missing directory succeeded")
	}
}
