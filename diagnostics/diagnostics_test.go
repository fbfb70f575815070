package diagnostics

import (
	"bytes"
	"errors"
	"testing"

	"tinygo.org/x/picosync/internal/scenario"
)

func TestStepErrors(t *testing.T) {
	_, err := scenario.Parse("/work/bad.yaml", []byte(`
mutexes: {m: {}}
cores:
  1:
    - unlock q
  0:
    - lock m
    - bogus
`))
	if err == nil {
		t.Fatal("Parse of a bad scenario succeeded")
	}
	diags := CreateDiagnostics(err)
	if len(diags) != 1 || len(diags[0].Diagnostics) != 2 {
		t.Fatalf("CreateDiagnostics returned %+v, want one file with 2 diagnostics", diags)
	}
	var buf bytes.Buffer
	diags.WriteTo(&buf, "/work")
	want := "# bad.yaml\n" +
		"bad.yaml: core 0 step 2: bogus: scenario: unknown operation: \"bogus\"\n" +
		"bad.yaml: core 1 step 1: unlock q: scenario: unknown mutex: \"q\"\n"
	if got := buf.String(); got != want {
		t.Errorf("WriteTo wrote:\n%s\nwant:\n%s", got, want)
	}
}

func TestYAMLErrors(t *testing.T) {
	_, err := scenario.Parse("typo.yaml", []byte("board: pico\ncolour: red\n"))
	diags := CreateDiagnostics(err)
	if len(diags) != 1 || len(diags[0].Diagnostics) != 1 {
		t.Fatalf("CreateDiagnostics returned %+v, want a single diagnostic", diags)
	}
	diag := diags[0].Diagnostics[0]
	if diag.Pos.Filename != "typo.yaml" || diag.Pos.Line != 2 || !diag.Pos.IsValid() {
		t.Errorf("diagnostic position is %+v, want typo.yaml line 2", diag.Pos)
	}

	_, err = scenario.Parse("syntax.yaml", []byte("board: pico\ncores: [\n"))
	diags = CreateDiagnostics(err)
	if len(diags) != 1 || len(diags[0].Diagnostics) != 1 || diags[0].Diagnostics[0].Pos.Filename != "syntax.yaml" {
		t.Fatalf("CreateDiagnostics returned %+v, want a single diagnostic in syntax.yaml", diags)
	}
}

func TestOtherErrors(t *testing.T) {
	if diags := CreateDiagnostics(nil); diags != nil {
		t.Errorf("CreateDiagnostics(nil) returned %+v", diags)
	}
	var buf bytes.Buffer
	CreateDiagnostics(errors.New("something broke")).WriteTo(&buf, "")
	if got := buf.String(); got != "something broke\n" {
		t.Errorf("WriteTo wrote %q", got)
	}
}

func TestRelativePosition(t *testing.T) {
	tests := []struct {
		filename, wd, want string
	}{
		{"/work/a.yaml", "/work", "a.yaml"},
		{"/work/sub/a.yaml", "/work", "sub/a.yaml"},
		{"/other/a.yaml", "/work", "/other/a.yaml"},
		{"a.yaml", "/work", "a.yaml"},
		{"/work/a.yaml", "", "/work/a.yaml"},
	}
	for _, tc := range tests {
		got := RelativePosition(Position{Filename: tc.filename}, tc.wd)
		if got.Filename != tc.want {
			t.Errorf("RelativePosition(%q, %q) returned %q, want %q", tc.filename, tc.wd, got.Filename, tc.want)
		}
	}
}
