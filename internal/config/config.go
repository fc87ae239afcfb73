// Package config resolves the command-line/environment/config-file surface
// into a single Config value. Precedence, highest first: explicit CLI
// flag, AUDIOSERVE_<FLAG> environment variable, --config FILE overlay, flag
// default.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/audioserve/audioserve/internal/collection"
)

// Config is the fully resolved server configuration for one process run.
type Config struct {
	Listen     string
	SSLKey     string
	SSLCert    string
	DataDir    string
	StaticDir  string

	SharedSecret     string
	SecretFile       string
	NoAuthentication bool
	TokenValidityDays int

	URLPathPrefix string
	BehindProxy   bool
	CORS          bool
	CORSRegex     *regexp.Regexp
	LimitRate     float64 // requests/sec; 0 disables

	FFmpegPath  string
	FFprobePath string

	MaxTranscodings int

	TCacheDir      string
	TCacheSize     int64 // bytes
	TCacheMaxFiles int
	TCacheDisable  bool

	AllowSymlinks        bool
	IgnoreChaptersMeta   bool
	ChaptersFromDuration uint32 // seconds
	ChaptersDuration     uint32 // seconds
	NoDirCollaps         bool
	CollapseCDFolders    bool
	CDFolderRegexp       string

	Tags         string // comma-separated recognized tag keys; empty keeps the built-in default set
	TagsCustom   string // comma-separated additional raw tag keys to surface
	TagsEncoding string // fallback text encoding (IANA/MIME name) for legacy ID3v1 tags

	RedisAddr string

	PositionsBackupFile     string
	PositionsBackupSchedule string

	ForceCacheUpdate      bool
	DisableFolderDownload bool

	PrintConfigRequested bool

	Collections []collection.Collection
}

const envPrefix = "AUDIOSERVE_"

// Parse builds a Config from args (typically os.Args[1:]). It never calls
// os.Exit; callers decide how to report a returned error.
func Parse(args []string) (*Config, error) {
	var overlay map[string]string
	cfgPath := firstConfigFlagValue(args)
	if cfgPath != "" {
		var err error
		overlay, err = loadOverlay(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("config: load %s: %w", cfgPath, err)
		}
	}

	cmd := &cobra.Command{
		Use:           "audioserve [flags] COLLECTION_ROOT[:opt,opt]...",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.Flags()

	flags.String("listen", "0.0.0.0:3000", "address:port to listen on")
	flags.String("ssl-key", "", "TLS private key path")
	flags.String("ssl-cert", "", "TLS certificate path")
	flags.String("data-dir", "", "directory for collection indexes and caches")
	flags.String("static-dir", "", "directory of client assets served unauthenticated; empty disables static serving")
	flags.String("shared-secret", "", "shared secret clients authenticate with")
	flags.String("secret-file", "", "file containing the shared secret")
	flags.Bool("no-authentication", false, "disable authentication entirely")
	flags.Int("token-validity-days", 30, "capability token lifetime in days (minimum 10)")
	flags.String("url-path-prefix", "", "path prefix stripped from every request")
	flags.Bool("behind-proxy", false, "trust X-Forwarded-* headers")
	flags.Bool("cors", false, "attach permissive CORS headers")
	flags.String("cors-regex", "", "only attach CORS headers to matching Origin values")
	flags.Float64("limit-rate", 0, "requests/sec token-bucket limit; 0 disables")
	flags.String("ffmpeg-path", "ffmpeg", "path to the ffmpeg binary")
	flags.String("ffprobe-path", "ffprobe", "path to the ffprobe binary")
	flags.Int("transcoding-max-parallel-processes", 0, "max concurrent transcodes; 0 means 2x CPU count")
	flags.String("t-cache-dir", "", "transcoding cache directory")
	flags.Int64("t-cache-size", 1<<30, "transcoding cache size bound in bytes")
	flags.Int("t-cache-max-files", 0, "transcoding cache file count bound; 0 disables")
	flags.Bool("t-cache-disable", false, "disable the transcoding cache")
	flags.Bool("search-cache", true, "no-op, search index is always on")
	flags.Bool("allow-symlinks", false, "accepted, but symlinked directories are never followed when watching/scanning")
	flags.Bool("ignore-chapters-meta", false, "ignore chapter tables from file metadata (sidecar .chapters files and synthesized chapters still apply)")
	flags.Uint32("chapters-from-duration", 0, "synthesize chapters when a file exceeds this many seconds; 0 disables")
	flags.Uint32("chapters-duration", 0, "seconds per synthesized chapter")
	flags.Bool("no-dir-collaps", false, "disable the single-file chapter collapse rule")
	flags.Bool("collapse-cd-folders", false, "merge CD1/CD2/... sibling folders into their parent")
	flags.String("cd-folder-regexp", collection.DefaultCDRegexp.String(), "regex for collapse-cd-folders")
	flags.String("tags", "", "comma-separated recognized tag keys")
	flags.String("tags-custom", "", "comma-separated additional tag keys")
	flags.String("tags-encoding", "", "fallback text encoding for legacy ID3 tags")
	flags.String("redis-addr", "127.0.0.1:6379", "redis address backing the background task queue")
	flags.String("positions-backup-file", "", "JSON file positions are periodically dumped to")
	flags.String("positions-backup-schedule", "", "cron expression for the positions backup")
	flags.Bool("force-cache-update", false, "force a full rescan of every collection at startup")
	flags.Bool("disable-folder-download", false, "disable the /col/download endpoint")
	flags.String("config", "", "YAML config file overlaying defaults")
	flags.Bool("print-config", false, "print the resolved configuration as JSON and exit")

	if err := cmd.ParseFlags(args); err != nil {
		return nil, fmt.Errorf("config: parse flags: %w", err)
	}

	cfg := &Config{
		Listen:                  resolveString(cmd, overlay, "listen"),
		SSLKey:                  resolveString(cmd, overlay, "ssl-key"),
		SSLCert:                 resolveString(cmd, overlay, "ssl-cert"),
		DataDir:                 resolveString(cmd, overlay, "data-dir"),
		StaticDir:               resolveString(cmd, overlay, "static-dir"),
		SharedSecret:            resolveString(cmd, overlay, "shared-secret"),
		SecretFile:              resolveString(cmd, overlay, "secret-file"),
		NoAuthentication:        resolveBool(cmd, overlay, "no-authentication"),
		TokenValidityDays:       resolveInt(cmd, overlay, "token-validity-days"),
		URLPathPrefix:           resolveString(cmd, overlay, "url-path-prefix"),
		BehindProxy:             resolveBool(cmd, overlay, "behind-proxy"),
		CORS:                    resolveBool(cmd, overlay, "cors"),
		LimitRate:               resolveFloat(cmd, overlay, "limit-rate"),
		FFmpegPath:              resolveString(cmd, overlay, "ffmpeg-path"),
		FFprobePath:             resolveString(cmd, overlay, "ffprobe-path"),
		MaxTranscodings:         resolveInt(cmd, overlay, "transcoding-max-parallel-processes"),
		TCacheDir:               resolveString(cmd, overlay, "t-cache-dir"),
		TCacheSize:              resolveInt64(cmd, overlay, "t-cache-size"),
		TCacheMaxFiles:          resolveInt(cmd, overlay, "t-cache-max-files"),
		TCacheDisable:           resolveBool(cmd, overlay, "t-cache-disable"),
		AllowSymlinks:           resolveBool(cmd, overlay, "allow-symlinks"),
		IgnoreChaptersMeta:      resolveBool(cmd, overlay, "ignore-chapters-meta"),
		ChaptersFromDuration:    uint32(resolveInt(cmd, overlay, "chapters-from-duration")),
		ChaptersDuration:        uint32(resolveInt(cmd, overlay, "chapters-duration")),
		NoDirCollaps:            resolveBool(cmd, overlay, "no-dir-collaps"),
		CollapseCDFolders:       resolveBool(cmd, overlay, "collapse-cd-folders"),
		CDFolderRegexp:          resolveString(cmd, overlay, "cd-folder-regexp"),
		Tags:                    resolveString(cmd, overlay, "tags"),
		TagsCustom:              resolveString(cmd, overlay, "tags-custom"),
		TagsEncoding:            resolveString(cmd, overlay, "tags-encoding"),
		RedisAddr:               resolveString(cmd, overlay, "redis-addr"),
		PositionsBackupFile:     resolveString(cmd, overlay, "positions-backup-file"),
		PositionsBackupSchedule: resolveString(cmd, overlay, "positions-backup-schedule"),
		ForceCacheUpdate:        resolveBool(cmd, overlay, "force-cache-update"),
		DisableFolderDownload:   resolveBool(cmd, overlay, "disable-folder-download"),
	}
	cfg.PrintConfigRequested, _ = cmd.Flags().GetBool("print-config")

	if corsRegex := resolveString(cmd, overlay, "cors-regex"); corsRegex != "" {
		re, err := regexp.Compile(corsRegex)
		if err != nil {
			return nil, fmt.Errorf("config: bad --cors-regex: %w", err)
		}
		cfg.CORSRegex = re
	}

	if cfg.MaxTranscodings == 0 {
		cfg.MaxTranscodings = 2 * runtime.NumCPU()
	}
	if cfg.TokenValidityDays < 10 {
		cfg.TokenValidityDays = 10
	}

	if cfg.SecretFile != "" && cfg.SharedSecret == "" {
		b, err := os.ReadFile(cfg.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("config: read secret-file: %w", err)
		}
		cfg.SharedSecret = strings.TrimSpace(string(b))
	}

	cols, err := parseCollectionArgs(cmd.Flags().Args(), resolveString(cmd, overlay, "cd-folder-regexp"), cfg)
	if err != nil {
		return nil, err
	}
	cfg.Collections = cols

	return cfg, nil
}

// parseCollectionArgs turns the positional "ROOT[:opt,opt]" arguments into
// Collection declarations, applying the global flag defaults per option.
func parseCollectionArgs(args []string, defaultCDRegexp string, cfg *Config) ([]collection.Collection, error) {
	cols := make([]collection.Collection, 0, len(args))
	for i, arg := range args {
		root, opts := splitCollectionArg(arg)
		col := collection.Collection{
			ID:   i,
			Name: baseName(root),
			Root: root,
			Options: collection.Options{
				DefaultOrder:         "a",
				CollapseCDFolders:    cfg.CollapseCDFolders,
				CDFolderRegexp:       collection.DefaultCDRegexp,
				IgnoreChaptersMeta:   cfg.IgnoreChaptersMeta,
				ChaptersFromDuration: cfg.ChaptersFromDuration,
				ChaptersDuration:     cfg.ChaptersDuration,
				NoDirCollaps:         cfg.NoDirCollaps,
				AllowSymlinks:        cfg.AllowSymlinks,
			},
		}
		if re, err := regexp.Compile(defaultCDRegexp); err == nil {
			col.Options.CDFolderRegexp = re
		}
		for _, opt := range opts {
			switch opt {
			case "no-cache":
				col.Options.NoCache = true
			case "m":
				col.Options.DefaultOrder = "m"
			case "a":
				col.Options.DefaultOrder = "a"
			}
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func splitCollectionArg(arg string) (root string, opts []string) {
	parts := strings.SplitN(arg, ":", 2)
	root = parts[0]
	if len(parts) == 2 {
		opts = strings.Split(parts[1], ",")
	}
	return root, opts
}

func baseName(root string) string {
	clean := strings.TrimRight(root, "/")
	if i := strings.LastIndexByte(clean, '/'); i >= 0 {
		return clean[i+1:]
	}
	return clean
}

// firstConfigFlagValue scans args for "--config" / "--config=VALUE" ahead of
// the full cobra parse, since the overlay it names must be loaded before
// resolveString can consult it.
func firstConfigFlagValue(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, "--config=") {
			return strings.TrimPrefix(a, "--config=")
		}
	}
	return ""
}

func loadOverlay(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = cast.ToString(v)
	}
	return out, nil
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func resolveString(cmd *cobra.Command, overlay map[string]string, name string) string {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	if v, ok := os.LookupEnv(envName(name)); ok {
		return v
	}
	if overlay != nil {
		if v, ok := overlay[name]; ok {
			return v
		}
	}
	v, _ := cmd.Flags().GetString(name)
	return v
}

func resolveBool(cmd *cobra.Command, overlay map[string]string, name string) bool {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetBool(name)
		return v
	}
	if v, ok := os.LookupEnv(envName(name)); ok {
		return cast.ToBool(v)
	}
	if overlay != nil {
		if v, ok := overlay[name]; ok {
			return cast.ToBool(v)
		}
	}
	v, _ := cmd.Flags().GetBool(name)
	return v
}

func resolveInt(cmd *cobra.Command, overlay map[string]string, name string) int {
	if cmd.Flags().Changed(name) {
		if v, err := cmd.Flags().GetInt(name); err == nil {
			return v
		}
		if v, err := cmd.Flags().GetUint32(name); err == nil {
			return int(v)
		}
	}
	if v, ok := os.LookupEnv(envName(name)); ok {
		return cast.ToInt(v)
	}
	if overlay != nil {
		if v, ok := overlay[name]; ok {
			return cast.ToInt(v)
		}
	}
	if v, err := cmd.Flags().GetInt(name); err == nil {
		return v
	}
	v, _ := cmd.Flags().GetUint32(name)
	return int(v)
}

func resolveInt64(cmd *cobra.Command, overlay map[string]string, name string) int64 {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt64(name)
		return v
	}
	if v, ok := os.LookupEnv(envName(name)); ok {
		return cast.ToInt64(v)
	}
	if overlay != nil {
		if v, ok := overlay[name]; ok {
			return cast.ToInt64(v)
		}
	}
	v, _ := cmd.Flags().GetInt64(name)
	return v
}

func resolveFloat(cmd *cobra.Command, overlay map[string]string, name string) float64 {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetFloat64(name)
		return v
	}
	if v, ok := os.LookupEnv(envName(name)); ok {
		return cast.ToFloat64(v)
	}
	if overlay != nil {
		if v, ok := overlay[name]; ok {
			return cast.ToFloat64(v)
		}
	}
	v, _ := cmd.Flags().GetFloat64(name)
	return v
}

// PrintConfig renders cfg as indented JSON, used by --print-config.
func PrintConfig(cfg *Config) (string, error) {
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
