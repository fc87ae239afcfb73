// Package transcode runs bounded-concurrency ffmpeg transcodes into a small
// set of fixed output profiles, optionally serving repeat requests out of a
// content-addressed disk cache.
package transcode

import (
	"fmt"
	"regexp"
)

// Profile names one of the fixed output encodings a client may be served
// instead of the source file.
type Profile struct {
	Name       string
	Mime       string
	Ext        string
	BitrateKbp int
	ffmpegArgs func(bitrateKbp int) []string
}

// Args builds the codec-specific portion of the ffmpeg command line for this
// profile, given the bitrate selected for the request.
func (p Profile) Args() []string { return p.ffmpegArgs(p.BitrateKbp) }

var (
	OpusInOgg = Profile{
		Name: "opus-ogg", Mime: "audio/ogg", Ext: ".ogg", BitrateKbp: 48,
		ffmpegArgs: func(kbps int) []string {
			return []string{"-c:a", "libopus", "-b:a", fmt.Sprintf("%dk", kbps), "-f", "ogg"}
		},
	}
	OpusInWebm = Profile{
		Name: "opus-webm", Mime: "audio/webm", Ext: ".webm", BitrateKbp: 48,
		ffmpegArgs: func(kbps int) []string {
			return []string{"-c:a", "libopus", "-b:a", fmt.Sprintf("%dk", kbps), "-f", "webm"}
		},
	}
	Mp3 = Profile{
		Name: "mp3", Mime: "audio/mpeg", Ext: ".mp3", BitrateKbp: 96,
		ffmpegArgs: func(kbps int) []string {
			return []string{"-c:a", "libmp3lame", "-b:a", fmt.Sprintf("%dk", kbps), "-f", "mp3"}
		},
	}
	AacInAdts = Profile{
		Name: "aac-adts", Mime: "audio/aac", Ext: ".aac", BitrateKbp: 64,
		ffmpegArgs: func(kbps int) []string {
			return []string{"-c:a", "aac", "-b:a", fmt.Sprintf("%dk", kbps), "-f", "adts"}
		},
	}
)

// DefaultProfiles is the profile set offered to an ordinary client, in the
// l, m, h order that ForLevel indexes.
var DefaultProfiles = []Profile{OpusInOgg, Mp3, AacInAdts}

// UserAgentProfileSet lets a specific client family (one that cannot decode
// Opus, for instance) get a different default ordering without touching the
// negotiation logic itself.
type UserAgentProfileSet struct {
	Pattern  *regexp.Regexp
	Profiles []Profile
}

// AlternativeProfileSets covers clients known not to support Opus well.
var AlternativeProfileSets = []UserAgentProfileSet{
	{
		Pattern:  regexp.MustCompile(`(?i)^Mozilla/.*\bSafari\b`),
		Profiles: []Profile{Mp3, AacInAdts},
	},
}

// ProfilesForUserAgent returns the profile set for ua, falling back to
// DefaultProfiles when no alternative set matches.
func ProfilesForUserAgent(ua string) []Profile {
	for _, set := range AlternativeProfileSets {
		if set.Pattern.MatchString(ua) {
			return set.Profiles
		}
	}
	return DefaultProfiles
}

// ByName finds one of the four built-in profiles by its Name.
func ByName(name string) (Profile, bool) {
	for _, p := range []Profile{OpusInOgg, OpusInWebm, Mp3, AacInAdts} {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// levelIndex maps the wire-level quality tier (trans=l|m|h|0) onto a
// position in a three-entry profile set, ordered low-to-high.
var levelIndex = map[string]int{"l": 0, "m": 1, "h": 2}

// ForLevel resolves level against profiles by position. A level whose
// position lies past the end of profiles reports false; the two-entry
// Safari set in AlternativeProfileSets has no "h".
func ForLevel(level string, profiles []Profile) (Profile, bool) {
	idx, ok := levelIndex[level]
	if !ok || idx >= len(profiles) {
		return Profile{}, false
	}
	return profiles[idx], true
}

// IsLevel reports whether s is one of the recognized trans levels.
func IsLevel(s string) bool {
	_, ok := levelIndex[s]
	return ok
}
