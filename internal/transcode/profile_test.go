package transcode

import "testing"

func TestByName(t *testing.T) {
	p, ok := ByName("opus-ogg")
	if !ok || p.Name != "opus-ogg" {
		t.Fatalf("want opus-ogg, got %+v ok=%v", p, ok)
	}
	if _, ok := ByName("does-not-exist"); ok {
		t.Fatal("expected lookup miss")
	}
}

func TestProfilesForUserAgent(t *testing.T) {
	def := ProfilesForUserAgent("curl/8.0")
	if len(def) == 0 || def[0].Name != OpusInOgg.Name {
		t.Fatalf("expected default set to lead with opus, got %+v", def)
	}

	safari := ProfilesForUserAgent("Mozilla/5.0 (Macintosh) AppleWebKit/605 (KHTML, like Gecko) Version/16 Safari/605")
	if len(safari) == 0 || safari[0].Name != Mp3.Name {
		t.Fatalf("expected safari set to lead with mp3, got %+v", safari)
	}
}
