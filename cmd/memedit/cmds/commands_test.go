package cmds

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/memedit/memedit/pkg/config"
	"github.com/memedit/memedit/pkg/proc"
)

func withConfigDir(t *testing.T) func() {
	t.Helper()
	dir, err := ioutil.TempDir("", "memedit-cmds")
	if err != nil {
		t.Fatal(err)
	}
	old := os.Getenv("MEMEDIT_CONFIG_DIR")
	os.Setenv("MEMEDIT_CONFIG_DIR", dir)
	return func() {
		os.Setenv("MEMEDIT_CONFIG_DIR", old)
		os.RemoveAll(dir)
	}
}

func TestCommandTree(t *testing.T) {
	defer withConfigDir(t)()
	root := New()
	for _, name := range []string{"version", "log"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("subcommand %q not found: %v", name, err)
		}
	}
	for _, name := range []string{"log", "log-output", "log-dest", "init", "width", "type", "exclude", "allow-non-root"} {
		if root.Flags().Lookup(name) == nil && root.PersistentFlags().Lookup(name) == nil {
			t.Errorf("flag %q not defined", name)
		}
	}
	if err := root.Args(root, nil); err == nil {
		t.Error("a pid should be required")
	}
	if err := root.Args(root, []string{"1", "2"}); err == nil {
		t.Error("only one pid should be accepted")
	}
}

func TestDataTypeFlag(t *testing.T) {
	var f dataTypeFlag
	if f.String() != "" {
		t.Fatalf("unset flag prints %q", f.String())
	}
	if err := f.Set("FLOAT"); err != nil {
		t.Fatal(err)
	}
	if !f.set || f.dt != proc.Float || f.String() != "float" {
		t.Fatalf("unexpected flag value %+v", f)
	}
	if err := f.Set("double"); err == nil {
		t.Fatal("expected an error for an unknown type")
	}
}

func TestStartSettings(t *testing.T) {
	defer func() {
		width = 0
		dataType = dataTypeFlag{}
	}()
	eight := 8
	two := 2

	tests := []struct {
		name    string
		conf    config.Config
		width   int
		dt      string
		want    proc.Settings
		wantErr bool
	}{
		{"defaults", config.Config{}, 0, "", proc.Settings{Width: 4, Type: proc.Int}, false},
		{"config", config.Config{Width: &eight, Type: "float"}, 0, "", proc.Settings{Width: 8, Type: proc.Float}, false},
		{"flags win", config.Config{Width: &eight, Type: "float"}, 2, "int", proc.Settings{Width: 2, Type: proc.Int}, false},
		{"bad config type", config.Config{Type: "double"}, 0, "", proc.Settings{}, true},
		{"float width", config.Config{Width: &two}, 0, "float", proc.Settings{}, true},
		{"bad width", config.Config{}, 3, "", proc.Settings{}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			width = tc.width
			dataType = dataTypeFlag{}
			if tc.dt != "" {
				if err := dataType.Set(tc.dt); err != nil {
					t.Fatal(err)
				}
			}
			got, err := startSettings(&tc.conf)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected an error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
		})
	}
}
