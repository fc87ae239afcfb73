package meta

import "testing"

func TestNewFFProbeBindingWithTagsDefaults(t *testing.T) {
	b := NewFFProbeBinding("")
	if b.BinaryPath != "ffprobe" {
		t.Fatalf("want default binary ffprobe, got %q", b.BinaryPath)
	}
	if b.recognizedTags != nil {
		t.Fatalf("want nil recognizedTags (falls back to defaultRecognizedSet), got %v", b.recognizedTags)
	}
}

func TestNewFFProbeBindingWithTagsOverridesRecognizedSet(t *testing.T) {
	b := NewFFProbeBindingWithTags("ffprobe", "title,artist", "mood, TXXX:CUSTOM ", "")
	if len(b.recognizedTags) != 2 || !b.recognizedTags["title"] || !b.recognizedTags["artist"] {
		t.Fatalf("want recognized set {title, artist}, got %v", b.recognizedTags)
	}
	if len(b.customTags) != 2 || b.customTags[0] != "mood" || b.customTags[1] != "TXXX:CUSTOM" {
		t.Fatalf("want trimmed custom tags, got %v", b.customTags)
	}
}

func TestNewFFProbeBindingWithTagsUnresolvableEncodingIsIgnored(t *testing.T) {
	b := NewFFProbeBindingWithTags("ffprobe", "", "", "not-a-real-encoding")
	if b.legacyEncoding != nil {
		t.Fatal("want nil legacyEncoding when the name doesn't resolve")
	}
}

func TestDecodeLegacyPassesThroughValidUTF8(t *testing.T) {
	b := NewFFProbeBindingWithTags("ffprobe", "", "", "windows-1250")
	if got := b.decodeLegacy("Déjà Vu"); got != "Déjà Vu" {
		t.Fatalf("valid UTF-8 must pass through unchanged, got %q", got)
	}
}

func TestDecodeLegacyNoEncodingConfiguredIsNoop(t *testing.T) {
	b := NewFFProbeBindingWithTags("ffprobe", "", "", "")
	invalid := string([]byte{0xe9}) // not valid UTF-8 on its own
	if got := b.decodeLegacy(invalid); got != invalid {
		t.Fatalf("want no-op without a configured encoding, got %q", got)
	}
}

func TestContainsFold(t *testing.T) {
	if !containsFold([]string{"Mood", "TXXX:CUSTOM"}, "mood") {
		t.Fatal("want case-insensitive match")
	}
	if containsFold([]string{"mood"}, "genre") {
		t.Fatal("want no match for unrelated key")
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, b ,,c ")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}
