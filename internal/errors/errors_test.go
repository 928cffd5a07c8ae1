package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("R102")
	if err.Code != "R102" {
		t.Errorf("Code = %q, want R102", err.Code)
	}
	if err.Category != CategoryConfig {
		t.Errorf("Category = %q, want config", err.Category)
	}
	if err.Message != "Invalid configuration value" {
		t.Errorf("Message = %q", err.Message)
	}

	unknown := New("R999")
	if unknown.Message != "Unknown error" {
		t.Errorf("unknown code Message = %q", unknown.Message)
	}
}

func TestErrorString(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := New("R121").WithDetail("redis://localhost:6379").Wrap(cause)

	want := "R121: Cannot open room store: redis://localhost:6379: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
}

func TestFromError(t *testing.T) {
	if FromError(nil, "R122") != nil {
		t.Error("FromError(nil) should be nil")
	}

	orig := New("R123").WithDetailf("room %q", "doc")
	if got := FromError(orig, "R122"); got != orig {
		t.Error("FromError should return an existing RelayError unchanged")
	}

	plain := stderrors.New("boom")
	got := FromError(plain, "R122")
	if got.Code != "R122" || got.Wrapped != plain {
		t.Errorf("FromError = %+v", got)
	}
	if Code(got) != "R122" {
		t.Errorf("Code = %q", Code(got))
	}
	if Code(plain) != "" {
		t.Error("Code of a plain error should be empty")
	}
}

func TestFormat(t *testing.T) {
	DisableColors()
	defer EnableColors()

	err := New("R102").WithDetail("registry.max_rooms must be positive, got 0").
		WithSuggestion("Set RELAY_MAX_ROOMS")
	out := err.Format()

	for _, want := range []string{
		"ERROR R102: Invalid configuration value",
		"registry.max_rooms must be positive, got 0",
		"Hint: Set RELAY_MAX_ROOMS",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format() missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	err := New("R120").WithDetail(`driver "mongo"`)
	var decoded map[string]string
	if e := json.Unmarshal([]byte(err.FormatJSON()), &decoded); e != nil {
		t.Fatalf("FormatJSON is not valid JSON: %v", e)
	}
	if decoded["code"] != "R120" || decoded["category"] != "storage" {
		t.Errorf("decoded = %v", decoded)
	}
	if decoded["detail"] != `driver "mongo"` {
		t.Errorf("detail = %q", decoded["detail"])
	}
}

func TestPrintError(t *testing.T) {
	DisableColors()
	defer EnableColors()

	var buf bytes.Buffer
	PrintError(&buf, New("R140"))
	if !strings.Contains(buf.String(), "R140: Cannot listen on address") {
		t.Errorf("PrintError output = %q", buf.String())
	}

	buf.Reset()
	PrintError(&buf, stderrors.New("plain failure"))
	if !strings.Contains(buf.String(), "ERROR: plain failure") {
		t.Errorf("PrintError output = %q", buf.String())
	}
}

func TestRegistryCodes(t *testing.T) {
	codes := GetAllCodes()
	if len(codes) == 0 {
		t.Fatal("no registered codes")
	}
	for _, code := range codes {
		tmpl, ok := GetTemplate(code)
		if !ok || tmpl.Message == "" || tmpl.Category == "" {
			t.Errorf("code %s has incomplete template %+v", code, tmpl)
		}
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("one two three four five six", 10)
	for _, line := range lines {
		if len(line) > 10 {
			t.Errorf("line %q exceeds width", line)
		}
	}
	if strings.Join(lines, " ") != "one two three four five six" {
		t.Errorf("wrapText lost words: %v", lines)
	}
	if wrapText("", 10) != nil {
		t.Error("empty text should produce no lines")
	}
}
