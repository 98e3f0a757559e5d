package discovery

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/obs-archive/endpointd/internal/logger"
)

var rsyncLogName = regexp.MustCompile(`^rsync.*log$`)

// ManifestOptions configures the rsync-log discovery strategy.
type ManifestOptions struct {
	// Exclude lists path patterns to skip, same semantics as Scan.
	Exclude []*regexp.Regexp
	// Origin is the day whose manifests are considered "today"; it
	// defaults to the current date when zero.
	Origin time.Time
	// PastDays and FutureDays widen the window of day directories
	// scanned around Origin, since a single observation night's logs can
	// land in directories timestamped either side of midnight.
	PastDays   int
	FutureDays int
	// Delay is how long a manifest must sit unmodified before it is
	// considered fully written and safe to parse.
	Delay time.Duration
	// SentinelExt names the extension appended to a manifest's path to
	// mark it as already parsed.
	SentinelExt string
	Log         *zerolog.Logger
}

func (o ManifestOptions) withDefaults() ManifestOptions {
	if o.Origin.IsZero() {
		o.Origin = time.Now().UTC()
	}
	if o.Delay == 0 {
		o.Delay = 60 * time.Second
	}
	if o.SentinelExt == "" {
		o.SentinelExt = "done"
	}
	if o.Log == nil {
		o.Log = logger.L()
	}
	return o
}

// ParseManifests discovers files transferred into directory by reading
// rsync log files under directory/YYYYMMDD subdirectories. A manifest is
// parsed once; a sentinel file records that it has been consumed, and is
// invalidated if the manifest changes afterward.
func ParseManifests(directory string, opts ManifestOptions) iter.Seq[string] {
	opts = opts.withDefaults()
	return func(yield func(string) bool) {
		for offset := -opts.PastDays; offset <= opts.FutureDays; offset++ {
			day := opts.Origin.AddDate(0, 0, offset)
			top := filepath.Join(directory, day.Format("20060102"))
			if _, err := os.Stat(top); err != nil {
				continue
			}
			if !walkManifests(top, opts, yield) {
				return
			}
		}
	}
}

func walkManifests(top string, opts ManifestOptions, yield func(string) bool) bool {
	manifests, err := findManifests(top)
	if err != nil {
		opts.Log.Error().Err(err).Str("dir", top).Msg("cannot list manifest directory")
		return true
	}
	for _, manifest := range manifests {
		ready, err := manifestReady(manifest, opts)
		if err != nil {
			opts.Log.Error().Err(err).Str("manifest", manifest).Msg("cannot check manifest")
			continue
		}
		if !ready {
			continue
		}
		if !parseOneManifest(manifest, opts, yield) {
			return false
		}
	}
	return true
}

func findManifests(top string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(top, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if rsyncLogName.MatchString(d.Name()) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// manifestReady applies the delay and sentinel rules: a manifest is ready
// to parse once it has been quiet for Delay, and either has no sentinel or
// has been modified since its sentinel was written (in which case the
// stale sentinel is removed).
func manifestReady(manifest string, opts ManifestOptions) (bool, error) {
	info, err := os.Stat(manifest)
	if err != nil {
		return false, fmt.Errorf("stat manifest: %w", err)
	}
	if time.Since(info.ModTime()) < opts.Delay {
		return false, nil
	}

	sentinel := manifest + "." + opts.SentinelExt
	sinfo, err := os.Stat(sentinel)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat sentinel: %w", err)
	}
	if sinfo.ModTime().Before(info.ModTime()) {
		opts.Log.Warn().Str("manifest", manifest).Msg("manifest changed since marked parsed, removing sentinel")
		if err := os.Remove(sentinel); err != nil {
			return false, fmt.Errorf("remove stale sentinel: %w", err)
		}
		return true, nil
	}
	return false, nil
}

func parseOneManifest(manifest string, opts ManifestOptions, yield func(string) bool) bool {
	f, err := os.Open(manifest)
	if err != nil {
		opts.Log.Error().Err(err).Str("manifest", manifest).Msg("cannot open manifest")
		return true
	}
	defer f.Close()

	cont := true
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, "<f+++++++++") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		path := fields[2]
		if matchesAny(path, opts.Exclude) {
			continue
		}
		if !yield(path) {
			cont = false
			break
		}
	}
	if err := scanner.Err(); err != nil {
		opts.Log.Error().Err(err).Str("manifest", manifest).Msg("error reading manifest")
	}

	if cont {
		if err := writeSentinel(manifest + "." + opts.SentinelExt); err != nil {
			opts.Log.Error().Err(err).Str("manifest", manifest).Msg("cannot write sentinel")
		}
	}
	return cont
}

func writeSentinel(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
