// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package archive

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Entry is one line of an S3 inventory manifest.
type Entry struct {
	Bucket       string
	Key          string
	Size         int64
	LastModified time.Time
	ContentHash  string
}

// ParseInventoryLine converts one decoded CSV line into an Entry.
func ParseInventoryLine(fields []string) (Entry, error) {
	if len(fields) < 4 {
		return Entry{}, ErrMalformed.New("inventory line has %d fields, want at least 4", len(fields))
	}
	size, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Entry{}, ErrMalformed.New("inventory size %q: %v", fields[2], err)
	}
	lastModified, err := time.Parse(time.RFC3339Nano, fields[3])
	if err != nil {
		return Entry{}, ErrMalformed.New("inventory timestamp %q: %v", fields[3], err)
	}
	entry := Entry{
		Bucket:       fields[0],
		Key:          fields[1],
		Size:         size,
		LastModified: lastModified,
	}
	if len(fields) > 4 {
		entry.ContentHash = fields[4]
	}
	return entry, nil
}

// Record is the canonical description of one published build artifact.
type Record struct {
	ID       string   `json:"id"`
	Build    *Build   `json:"build,omitempty"`
	Source   Source   `json:"source"`
	Target   Target   `json:"target"`
	Download Download `json:"download"`
}

// Build carries compiler and buildbot details from the sidecar metadata.
type Build struct {
	ID     string `json:"id,omitempty"`
	Date   string `json:"date,omitempty"`
	Number int    `json:"number,omitempty"`
	AS     any    `json:"as,omitempty"`
	CC     any    `json:"cc,omitempty"`
	CXX    any    `json:"cxx,omitempty"`
	LD     any    `json:"ld,omitempty"`
	Host   string `json:"host,omitempty"`
	Target string `json:"target,omitempty"`
}

// Source identifies the product and the source tree the artifact was
// built from.
type Source struct {
	Product    string `json:"product"`
	Repository string `json:"repository,omitempty"`
	Revision   string `json:"revision,omitempty"`
	Tree       string `json:"tree,omitempty"`
}

// Target describes what the artifact was built for.
type Target struct {
	Channel  string `json:"channel"`
	Locale   string `json:"locale"`
	Platform string `json:"platform"`
	OS       string `json:"os"`
	Version  string `json:"version"`
}

// Download describes the artifact file itself.
type Download struct {
	Date     string `json:"date"`
	Mimetype string `json:"mimetype"`
	Size     int64  `json:"size"`
	URL      string `json:"url"`
}

// Incomplete reports whether the record still lacks build or source
// details that only sidecar metadata can provide.
func (record *Record) Incomplete() bool {
	return record.Build == nil || record.Source.Revision == ""
}

// knownExtensions are the artifact suffixes that identify an
// installable build. Compound suffixes come first so that SplitExtension
// prefers them over their tails.
var knownExtensions = []string{
	"tar.gz", "tar.bz2", "zip", "exe", "msi", "dmg", "apk",
}

// SplitExtension splits a filename into its base and its artifact
// extension. The extension is empty when the name does not end in one of
// the known artifact suffixes.
func SplitExtension(filename string) (base, ext string) {
	for _, known := range knownExtensions {
		if strings.HasSuffix(filename, "."+known) {
			return strings.TrimSuffix(filename, "."+known), known
		}
	}
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[:i], ""
	}
	return filename, ""
}

var mimeTypes = map[string]string{
	"exe":     "application/msdos-windows",
	"msi":     "application/x-msi",
	"zip":     "application/zip",
	"tar.gz":  "application/x-gzip",
	"tar.bz2": "application/x-bzip2",
	"dmg":     "application/x-apple-diskimage",
	"apk":     "application/vnd.android.package-archive",
}

// MimeType guesses the content type of an artifact from its filename.
func MimeType(filename string) (string, error) {
	_, ext := SplitExtension(filename)
	mimetype, ok := mimeTypes[ext]
	if !ok {
		return "", Error.New("unknown mimetype for %q", filename)
	}
	return mimetype, nil
}

var skipKeyParts = []string{
	"tinderbox-builds/",
	"try-builds/",
	"partner-repacks/",
	"/latest/",
	"/contrib/",
	"funnelcake",
}

var skipNameParts = []string{
	"stub",
	"sdk",
	"tests",
	"crashreporter",
	"source",
	"asan",
	"langpack",
}

// IsBuildFile reports whether an inventory key points at an installable
// build artifact as opposed to auxiliary files like checksums, partial
// updates, test archives or stub installers.
func IsBuildFile(key string) bool {
	for _, part := range skipKeyParts {
		if strings.Contains(key, part) {
			return false
		}
	}
	filename := key
	if i := strings.LastIndex(key, "/"); i >= 0 {
		filename = key[i+1:]
	}
	lower := strings.ToLower(filename)
	for _, part := range skipNameParts {
		if strings.Contains(lower, part) {
			return false
		}
	}
	_, ext := SplitExtension(filename)
	return ext != ""
}

// products maps the archive path segment to the product name records are
// published under.
var products = map[string]string{
	"firefox":     "firefox",
	"mobile":      "fennec",
	"devedition":  "devedition",
	"thunderbird": "thunderbird",
}

// GuessChannel derives the release channel from the artifact path and
// its version string.
func GuessChannel(key, version string) string {
	switch {
	case strings.Contains(key, "/nightly/"):
		if strings.Contains(key, "aurora") {
			return "aurora"
		}
		return "nightly"
	case strings.Contains(key, "devedition"):
		return "aurora"
	case strings.HasSuffix(version, "esr"):
		return "esr"
	case strings.Contains(version, "b"):
		return "beta"
	default:
		return "release"
	}
}

func guessOS(platform string) (string, error) {
	switch {
	case strings.HasPrefix(platform, "win"):
		return "win", nil
	case strings.HasPrefix(platform, "mac"):
		return "mac", nil
	case strings.HasPrefix(platform, "linux"):
		return "linux", nil
	case strings.Contains(platform, "android"):
		return "android", nil
	}
	return "", Error.New("unknown os for platform %q", platform)
}

// FormatDate renders a timestamp the way records carry dates, in UTC
// with whole seconds.
func FormatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// BuildDate converts a 14 digit build id into a record date string.
func BuildDate(buildID string) (string, error) {
	t, err := time.Parse("20060102150405", buildID)
	if err != nil {
		return "", ErrMalformed.New("build id %q: %v", buildID, err)
	}
	return FormatDate(t), nil
}

// recordID derives the canonical record identifier. Nightlies get the
// channel and the build datetime so that one nightly per day per target
// stays addressable.
func recordID(product, channel, nightlyDate, version, platform, locale string) string {
	parts := []string{product}
	if nightlyDate != "" {
		parts = append(parts, channel, nightlyDate)
	}
	parts = append(parts, version, platform, locale)
	id := strings.Join(parts, "_")
	id = strings.ReplaceAll(id, ".", "-")
	return strings.ToLower(id)
}

// NewRecord builds the partial record an inventory entry determines on
// its own: everything except the build and source-revision details that
// sidecar metadata adds later. It understands the three archive layouts
// (releases, candidate builds, and nightlies) and fails on anything
// else.
func NewRecord(entry Entry, baseURL string) (*Record, error) {
	parts := strings.Split(entry.Key, "/")
	if len(parts) < 3 || parts[0] != "pub" {
		return nil, ErrMalformed.New("unrecognized key %q", entry.Key)
	}
	product, ok := products[parts[1]]
	if !ok {
		return nil, ErrMalformed.New("unknown product in key %q", entry.Key)
	}

	var version, platform, locale, filename, nightlyDate string

	switch parts[2] {
	case "releases":
		// pub/{product}/releases/{version}/{platform}/{locale}/{file}
		if len(parts) != 7 {
			return nil, ErrMalformed.New("unrecognized release key %q", entry.Key)
		}
		version, platform, locale, filename = parts[3], parts[4], parts[5], parts[6]

	case "candidates":
		// pub/{product}/candidates/{version}-candidates/build{N}/{platform}/{locale}/{file}
		if len(parts) != 8 {
			return nil, ErrMalformed.New("unrecognized candidate key %q", entry.Key)
		}
		version = strings.TrimSuffix(parts[3], "-candidates")
		buildNumber := strings.TrimPrefix(parts[4], "build")
		version += "rc" + buildNumber
		platform, locale, filename = parts[5], parts[6], parts[7]

	case "nightly":
		// pub/{product}/nightly/{yyyy}/{mm}/{datetime}-{tree}[-l10n]/{file}
		if len(parts) != 7 {
			return nil, ErrMalformed.New("unrecognized nightly key %q", entry.Key)
		}
		folder := parts[5]
		filename = parts[6]
		if len(folder) < 20 {
			return nil, ErrMalformed.New("unrecognized nightly folder in %q", entry.Key)
		}
		nightlyDate = folder[:19]

		base, _ := SplitExtension(filename)
		base = strings.TrimSuffix(base, ".installer-stub")
		base = strings.TrimSuffix(base, ".installer")
		nameParts := strings.Split(base, ".")
		if len(nameParts) < 3 {
			return nil, ErrMalformed.New("unrecognized nightly filename %q", filename)
		}
		platform = nameParts[len(nameParts)-1]
		locale = nameParts[len(nameParts)-2]
		head := strings.Join(nameParts[:len(nameParts)-2], ".")
		dash := strings.Index(head, "-")
		if dash < 0 {
			return nil, ErrMalformed.New("unrecognized nightly filename %q", filename)
		}
		version = head[dash+1:]

	default:
		return nil, ErrMalformed.New("unrecognized key %q", entry.Key)
	}

	channel := GuessChannel(entry.Key, version)
	os, err := guessOS(platform)
	if err != nil {
		return nil, err
	}
	mimetype, err := MimeType(filename)
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID: recordID(product, channel, nightlyDate, version, platform, locale),
		Source: Source{
			Product: product,
		},
		Target: Target{
			Channel:  channel,
			Locale:   locale,
			Platform: platform,
			OS:       os,
			Version:  version,
		},
		Download: Download{
			Date:     FormatDate(entry.LastModified),
			Mimetype: mimetype,
			Size:     entry.Size,
			URL:      baseURL + entry.Key,
		},
	}
	return record, nil
}

// RepositoryTree extracts the tree name from a source repository URL,
// e.g. releases/mozilla-release from the hg URL.
func RepositoryTree(repository string) string {
	parsed, err := url.Parse(repository)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Path, "/")
}
