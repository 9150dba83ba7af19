package migrations

import (
	"testing"
	"testing/fstest"
)

func TestLoadOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0010_later.sql":  {Data: []byte("SELECT 10;")},
		"0002_second.sql": {Data: []byte("SELECT 2;")},
		"readme.sql":      {Data: []byte("SELECT 0;")},
		"0001_init.txt":   {Data: []byte("ignored")},
	}
	got, err := load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].Version != 2 || got[1].Version != 10 {
		t.Fatalf("unexpected migrations: %+v", got)
	}
}

func TestEmbeddedSchemaPresent(t *testing.T) {
	got, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) == 0 || got[0].Version != 1 {
		t.Fatalf("expected 0001_init.sql to be embedded, got %+v", got)
	}
}
