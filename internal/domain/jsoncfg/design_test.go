package jsoncfg

import (
	"encoding/json"
	"testing"
)

func TestParseDesignChoicesDefaults(t *testing.T) {
	d, err := ParseDesignChoices(nil)
	if err != nil {
		t.Fatalf("ParseDesignChoices returned error: %v", err)
	}
	if d.Version != DefaultDesignVersion {
		t.Fatalf("Version = %q, want %q", d.Version, DefaultDesignVersion)
	}
	if d.Fields == nil {
		t.Fatalf("Fields should be allocated")
	}
}

func TestParseDesignChoicesKeepsUnknownFields(t *testing.T) {
	raw := []byte(`{"version":"2025-02","palette":["#fff","#000"],"layout":{"columns":2}}`)
	d, err := ParseDesignChoices(raw)
	if err != nil {
		t.Fatalf("ParseDesignChoices returned error: %v", err)
	}
	if d.Version != "2025-02" {
		t.Fatalf("Version = %q, want 2025-02", d.Version)
	}
	keys := d.Keys()
	if len(keys) != 2 || keys[0] != "layout" || keys[1] != "palette" {
		t.Fatalf("Keys = %v, want [layout palette]", keys)
	}

	encoded, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back map[string]any
	if err := json.Unmarshal(encoded, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back["version"] != "2025-02" {
		t.Fatalf("version lost on re-encode: %v", back)
	}
	layout, ok := back["layout"].(map[string]any)
	if !ok || layout["columns"] != float64(2) {
		t.Fatalf("layout lost on re-encode: %v", back)
	}
}

func TestParseDesignChoicesRejectsNonStringVersion(t *testing.T) {
	if _, err := ParseDesignChoices([]byte(`{"version":3}`)); err == nil {
		t.Fatalf("expected error for numeric version")
	}
}

func TestDesignChoicesSetRejectsReservedField(t *testing.T) {
	var d DesignChoices
	if err := d.Set("version", "x"); err == nil {
		t.Fatalf("expected error when overwriting version")
	}
	if err := d.Set("style", "minimal"); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	if string(d.Fields["style"]) != `"minimal"` {
		t.Fatalf("style = %s", d.Fields["style"])
	}
}
