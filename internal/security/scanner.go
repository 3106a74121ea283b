package security

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/quantmind-br/themepkg/internal/core"
	"github.com/quantmind-br/themepkg/internal/fsops"
	"github.com/quantmind-br/themepkg/internal/paths"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxScanFileSize is the largest file the pattern pass reads
	MaxScanFileSize int64 = 10 * 1024 * 1024

	maxSnippetLength   = 100
	defaultConcurrency = 4
)

// Threat is one pattern match or suspicious file
type Threat struct {
	Severity core.Severity `json:"severity"`
	Type     string        `json:"type"`
	Message  string        `json:"message"`
	File     string        `json:"file"`
	Line     int           `json:"line,omitempty"`
	Code     string        `json:"code,omitempty"`
}

// Warning is a non-threatening finding
type Warning struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	File        string `json:"file"`
	Remediation string `json:"remediation,omitempty"`
}

// Result is the outcome of a security scan
type Result struct {
	Score        int           `json:"score"`
	Safe         bool          `json:"safe"`
	RiskLevel    core.Severity `json:"riskLevel"`
	Threats      []Threat      `json:"threats"`
	Warnings     []Warning     `json:"warnings"`
	FilesScanned int           `json:"filesScanned"`
}

// CountBySeverity returns the number of threats at each severity
func (r *Result) CountBySeverity() map[core.Severity]int {
	counts := make(map[core.Severity]int, 4)
	for _, t := range r.Threats {
		counts[t.Severity]++
	}
	return counts
}

// Score computes the 0-100 score for a set of findings
func Score(threats []Threat, warningCount int) int {
	score := 100
	for _, t := range threats {
		switch t.Severity {
		case core.SeverityCritical:
			score -= 30
		case core.SeverityHigh:
			score -= 20
		case core.SeverityMedium:
			score -= 10
		case core.SeverityLow:
			score -= 5
		}
	}
	score -= 2 * warningCount
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// IsSafe reports whether no critical or high threat is present
func IsSafe(threats []Threat) bool {
	for _, t := range threats {
		if t.Severity.Rank() >= core.SeverityHigh.Rank() {
			return false
		}
	}
	return true
}

// RiskLevel buckets a score
func RiskLevel(score int) core.Severity {
	switch {
	case score >= 90:
		return core.SeverityLow
	case score >= 70:
		return core.SeverityMedium
	case score >= 50:
		return core.SeverityHigh
	default:
		return core.SeverityCritical
	}
}

// Option configures a Scanner
type Option func(*Scanner)

// WithRules replaces the signature table
func WithRules(rules []Rule) Option {
	return func(s *Scanner) { s.rules = rules }
}

// WithConcurrency bounds how many files are scanned at once
func WithConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// Scanner statically scans theme packages for dangerous code and files
type Scanner struct {
	fs          afero.Fs
	resolver    *paths.Resolver
	rules       []Rule
	concurrency int
	logger      *zerolog.Logger
}

// NewScanner creates a scanner with the default rule table
func NewScanner(fs afero.Fs, resolver *paths.Resolver, logger *zerolog.Logger, opts ...Option) *Scanner {
	s := &Scanner{
		fs:          fs,
		resolver:    resolver,
		rules:       DefaultRules(),
		concurrency: defaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// fileFindings collects what one file contributed, merged in path order later
type fileFindings struct {
	threats  []Threat
	warnings []Warning
	scanned  bool
}

// Scan scans the live package with the given id
func (s *Scanner) Scan(ctx context.Context, packageID string) (*Result, error) {
	return s.ScanDir(ctx, s.resolver.PackageDir(packageID))
}

// ScanDir scans every file below dir. Findings are ordered by file path, then
// by line.
func (s *Scanner) ScanDir(ctx context.Context, dir string) (*Result, error) {
	entries, err := fsops.Walk(s.fs, dir, scanPolicy)
	if err != nil {
		return nil, fmt.Errorf("list package files: %w", err)
	}

	findings := make([]fileFindings, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, entry := range entries {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := s.scanEntry(entry)
			if err != nil {
				return err
			}
			findings[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &Result{Threats: []Threat{}, Warnings: []Warning{}}
	for _, f := range findings {
		res.Threats = append(res.Threats, f.threats...)
		res.Warnings = append(res.Warnings, f.warnings...)
		if f.scanned {
			res.FilesScanned++
		}
	}
	res.Score = Score(res.Threats, len(res.Warnings))
	res.Safe = IsSafe(res.Threats)
	res.RiskLevel = RiskLevel(res.Score)

	if s.logger != nil {
		s.logger.Debug().
			Str("dir", dir).
			Int("score", res.Score).
			Bool("safe", res.Safe).
			Int("threats", len(res.Threats)).
			Int("warnings", len(res.Warnings)).
			Msg("security scan finished")
	}
	return res, nil
}

// scanPolicy includes dot entries so they can be flagged, but never descends
// into them or into vendored dependencies.
func scanPolicy(e fsops.Entry) (bool, bool) {
	if e.IsDir && (strings.HasPrefix(e.Name, ".") || e.Name == "node_modules") {
		return true, false
	}
	return true, true
}

func (s *Scanner) scanEntry(e fsops.Entry) (fileFindings, error) {
	var f fileFindings
	file := filepath.ToSlash(e.RelPath)
	ext := strings.ToLower(filepath.Ext(e.Name))

	if strings.HasPrefix(e.Name, ".") && !allowedDotfiles[e.Name] {
		f.warnings = append(f.warnings, Warning{
			Type:        TypeHiddenFile,
			Message:     fmt.Sprintf("hidden file or directory %s", e.Name),
			File:        file,
			Remediation: "remove hidden files from the package before publishing",
		})
	}
	if e.IsDir {
		return f, nil
	}

	if suspiciousExtensions[ext] {
		f.threats = append(f.threats, Threat{
			Severity: core.SeverityHigh,
			Type:     TypeSuspiciousFile,
			Message:  fmt.Sprintf("%s files are not allowed in theme packages", ext),
			File:     file,
		})
	}

	if e.Mode.Perm()&0111 != 0 {
		f.warnings = append(f.warnings, Warning{
			Type:        TypeExecutableFile,
			Message:     "file has an execute permission bit set",
			File:        file,
			Remediation: "theme files are data; clear the execute bit (chmod -x)",
		})
	}

	markup := markupExtensions[ext]
	if !markup && !sourceExtensions[ext] {
		return f, nil
	}

	if e.Size > MaxScanFileSize {
		f.warnings = append(f.warnings, Warning{
			Type:        TypeOversizedFile,
			Message:     fmt.Sprintf("file is larger than %d MB and was not scanned", MaxScanFileSize/(1024*1024)),
			File:        file,
			Remediation: "split or remove the file",
		})
		return f, nil
	}

	data, err := afero.ReadFile(s.fs, e.Path)
	if err != nil {
		return f, fmt.Errorf("read %s: %w", file, err)
	}
	f.scanned = true

	threats, err := s.scanLines(file, ext, data, markup)
	if err != nil {
		return f, fmt.Errorf("scan %s: %w", file, err)
	}
	f.threats = append(f.threats, threats...)
	if ext == ".json" {
		f.warnings = append(f.warnings, scanJSONKeys(file, data)...)
	}
	return f, nil
}

// maxLineLength bounds a single scanned line
var maxLineLength = int(MaxScanFileSize) + 1

func (s *Scanner) scanLines(file, ext string, data []byte, markup bool) ([]Threat, error) {
	var threats []Threat
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()

		if markup {
			threats = append(threats, scanScriptTags(file, line, text)...)
		}
		if isComment(text, ext) {
			continue
		}
		for _, rule := range s.rules {
			if rule.Pattern.MatchString(text) {
				threats = append(threats, Threat{
					Severity: rule.Severity,
					Type:     rule.Type,
					Message:  rule.Message,
					File:     file,
					Line:     line,
					Code:     snippet(text),
				})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return threats, nil
}

func scanScriptTags(file string, line int, text string) []Threat {
	var threats []Threat
	for _, m := range scriptTagPattern.FindAllStringSubmatch(text, -1) {
		src := scriptSrcPattern.FindStringSubmatch(m[1])
		if src == nil {
			threats = append(threats, Threat{
				Severity: core.SeverityMedium,
				Type:     TypeInlineScript,
				Message:  "inline <script> block",
				File:     file,
				Line:     line,
				Code:     snippet(text),
			})
			continue
		}
		url := strings.ToLower(src[1])
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "//") {
			threats = append(threats, Threat{
				Severity: core.SeverityHigh,
				Type:     TypeExternalScript,
				Message:  fmt.Sprintf("script loaded from non-HTTPS external source %s", src[1]),
				File:     file,
				Line:     line,
				Code:     snippet(text),
			})
		}
	}
	return threats
}

func scanJSONKeys(file string, data []byte) []Warning {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return []Warning{{
			Type:    TypeUnreadableContent,
			Message: "JSON file could not be parsed for a key scan",
			File:    file,
		}}
	}

	var warnings []Warning
	var walk func(prefix string, v interface{})
	walk = func(prefix string, v interface{}) {
		switch node := v.(type) {
		case map[string]interface{}:
			keys := make([]string, 0, len(node))
			for k := range node {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				path := k
				if prefix != "" {
					path = prefix + "." + k
				}
				if isSensitiveKey(k) {
					warnings = append(warnings, Warning{
						Type:        TypeSensitiveConfig,
						Message:     fmt.Sprintf("key %s looks like it holds sensitive data", path),
						File:        file,
						Remediation: "keep credentials in platform settings, not in the package",
					})
				}
				walk(path, node[k])
			}
		case []interface{}:
			for i, item := range node {
				walk(fmt.Sprintf("%s[%d]", prefix, i), item)
			}
		}
	}
	walk("", doc)
	return warnings
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isComment(line, ext string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range commentPrefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return hashCommentExts[ext] && strings.HasPrefix(trimmed, "#")
}

func snippet(line string) string {
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) <= maxSnippetLength {
		return line
	}
	runes := []rune(line)
	return string(runes[:maxSnippetLength]) + "..."
}
