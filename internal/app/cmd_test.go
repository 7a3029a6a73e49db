package app

import (
	"io"
	"reflect"
	"testing"

	"github.com/hitoshi/threadscope/internal/model"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCmd  Command
		wantRest []string
	}{
		{"引数なしはrun", nil, CommandRun, nil},
		{"run", []string{"run", "-pages", "2"}, CommandRun, []string{"-pages", "2"}},
		{"フラグのみはrunのフラグ", []string{"-no-analysis"}, CommandRun, []string{"-no-analysis"}},
		{"register", []string{"register", "-name", "a"}, CommandRegister, []string{"-name", "a"}},
		{"worker", []string{"worker"}, CommandWorker, []string{}},
		{"migrate", []string{"migrate"}, CommandMigrate, []string{}},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, rest := ParseCommand(tt.args)
			if cmd != tt.wantCmd {
				t.Errorf("command = %q, want %q", cmd, tt.wantCmd)
			}
			if len(rest) != len(tt.wantRest) || (len(rest) > 0 && !reflect.DeepEqual(rest, tt.wantRest)) {
				t.Errorf("rest = %v, want %v", rest, tt.wantRest)
			}
		})
	}
}

func TestParseRunFlags(t *testing.T) {
	opts, err := parseRunFlags([]string{"-platform", "forum-a, feed-b,", "-pages", "3", "-no-analysis"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(opts.Platforms, []string{"forum-a", "feed-b"}) {
		t.Errorf("Platforms = %v", opts.Platforms)
	}
	if opts.MaxPages != 3 {
		t.Errorf("MaxPages = %d, want 3", opts.MaxPages)
	}
	if opts.Analyze {
		t.Error("-no-analysis 指定時は Analyze=false であるべきです")
	}
}

func TestParseRunFlags_Defaults(t *testing.T) {
	opts, err := parseRunFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(opts.Platforms) != 0 {
		t.Errorf("Platforms = %v, want empty", opts.Platforms)
	}
	if opts.MaxPages != 1 || !opts.Analyze {
		t.Errorf("opts = %+v, want MaxPages=1 Analyze=true", opts)
	}
}

func TestParseRunFlags_Invalid(t *testing.T) {
	tests := [][]string{
		{"-pages", "0"},
		{"-pages", "abc"},
		{"-unknown"},
	}
	for _, args := range tests {
		if _, err := parseRunFlags(args, io.Discard); err == nil {
			t.Errorf("parseRunFlags(%v) はエラーを返すべきです", args)
		}
	}
}

func TestParseRegisterFlags(t *testing.T) {
	opts, err := parseRegisterFlags([]string{"-name", " forum-a ", "-url", "https://forum.example.com", "-type", "feed"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Name != "forum-a" || opts.Website != "https://forum.example.com" || opts.Type != model.PlatformTypeFeed {
		t.Errorf("opts = %+v", opts)
	}

	opts, err = parseRegisterFlags([]string{"-name", "forum-b", "-url", "https://b.example.com"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Type != model.PlatformTypeForum {
		t.Errorf("Type = %q, want forum", opts.Type)
	}
}

func TestParseRegisterFlags_MissingRequired(t *testing.T) {
	tests := [][]string{
		{"-name", "forum-a"},
		{"-url", "https://forum.example.com"},
		{},
	}
	for _, args := range tests {
		if _, err := parseRegisterFlags(args, io.Discard); err == nil {
			t.Errorf("parseRegisterFlags(%v) はエラーを返すべきです", args)
		}
	}
}
