package security

import (
	"regexp"

	"github.com/quantmind-br/themepkg/internal/core"
)

// Threat type tags
const (
	TypeCodeExecution     = "code_execution"
	TypeXSS               = "xss"
	TypeFilesystem        = "filesystem"
	TypeSystemAccess      = "system_access"
	TypeInfoLeak          = "info_leak"
	TypeNetwork           = "network"
	TypeInlineScript      = "inline_script"
	TypeExternalScript    = "external_script"
	TypeSuspiciousFile    = "suspicious_file"
	TypeSensitiveConfig   = "sensitive_config"
	TypeHiddenFile        = "hidden_file"
	TypeExecutableFile    = "executable_permission"
	TypeOversizedFile     = "oversized_file"
	TypeUnreadableContent = "unreadable_content"
)

// Rule is one threat signature matched line by line against source files
type Rule struct {
	Severity core.Severity
	Type     string
	Pattern  *regexp.Regexp
	Message  string
}

// DefaultRules returns the built-in signature table. Callers get a fresh slice
// they are free to extend or filter.
func DefaultRules() []Rule {
	return []Rule{
		// critical
		{core.SeverityCritical, TypeCodeExecution, regexp.MustCompile(`\beval\s*\(`), "use of eval()"},
		{core.SeverityCritical, TypeCodeExecution, regexp.MustCompile(`\bnew\s+Function\s*\(`), "dynamic function construction"},
		{core.SeverityCritical, TypeSystemAccess, regexp.MustCompile(`require\s*\(\s*['"](?:node:)?child_process['"]\s*\)`), "child process access"},
		{core.SeverityCritical, TypeSystemAccess, regexp.MustCompile(`\bprocess\.(?:binding|dlopen|kill)\s*\(`), "low-level process access"},
		{core.SeverityCritical, TypeSystemAccess, regexp.MustCompile(`\b(?:execSync|spawnSync|execFile)\s*\(`), "command execution"},

		// high
		{core.SeverityHigh, TypeXSS, regexp.MustCompile(`\.(?:inner|outer)HTML\s*=`), "direct HTML injection"},
		{core.SeverityHigh, TypeXSS, regexp.MustCompile(`\bdocument\.write(?:ln)?\s*\(`), "document.write"},
		{core.SeverityHigh, TypeXSS, regexp.MustCompile(`\binsertAdjacentHTML\s*\(`), "insertAdjacentHTML"},
		{core.SeverityHigh, TypeFilesystem, regexp.MustCompile(`require\s*\(\s*['"](?:node:)?fs(?:/promises)?['"]\s*\)`), "filesystem access"},
		{core.SeverityHigh, TypeFilesystem, regexp.MustCompile(`\bfrom\s+['"](?:node:)?(?:fs|child_process)(?:/promises)?['"]`), "host module import"},
		{core.SeverityHigh, TypeCodeExecution, regexp.MustCompile(`\bset(?:Timeout|Interval)\s*\(\s*['"\x60]`), "string passed to timer"},
		{core.SeverityHigh, TypeSystemAccess, regexp.MustCompile(`\bprocess\.env\b`), "environment variable access"},

		// medium
		{core.SeverityMedium, TypeXSS, regexp.MustCompile(`\bdangerouslySetInnerHTML\b`), "dangerouslySetInnerHTML"},
		{core.SeverityMedium, TypeInfoLeak, regexp.MustCompile(`\bdocument\.cookie\b`), "cookie access"},
		{core.SeverityMedium, TypeNetwork, regexp.MustCompile(`\bnew\s+WebSocket\s*\(`), "websocket connection"},
		{core.SeverityMedium, TypeNetwork, regexp.MustCompile(`\bwindow\.location(?:\.href)?\s*=[^=]`), "scripted redirect"},
		{core.SeverityMedium, TypeCodeExecution, regexp.MustCompile(`\bimport\s*\(\s*[^'"\x60\s]`), "dynamic import of a computed module"},

		// low
		{core.SeverityLow, TypeInfoLeak, regexp.MustCompile(`\bconsole\.(?:log|debug|trace)\s*\(`), "debug logging left in source"},
		{core.SeverityLow, TypeInfoLeak, regexp.MustCompile(`\b(?:local|session)Storage\b`), "browser storage access"},
		{core.SeverityLow, TypeNetwork, regexp.MustCompile(`['"]http://`), "plain HTTP URL"},
		{core.SeverityLow, TypeCodeExecution, regexp.MustCompile(`^\s*debugger\s*;?\s*$`), "debugger statement"},
	}
}

var (
	// sourceExtensions are scanned with the rule table
	sourceExtensions = map[string]bool{
		".js": true, ".jsx": true, ".mjs": true, ".cjs": true,
		".ts": true, ".tsx": true,
		".css": true, ".scss": true, ".sass": true, ".less": true,
		".json": true, ".md": true, ".txt": true, ".yml": true, ".yaml": true,
	}

	// markupExtensions are scanned with the rule table and the script tag pass
	markupExtensions = map[string]bool{
		".html": true, ".htm": true, ".liquid": true, ".hbs": true, ".handlebars": true,
		".vue": true, ".svelte": true, ".svg": true, ".xml": true,
	}

	// suspiciousExtensions never belong in a theme package
	suspiciousExtensions = map[string]bool{
		".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
		".sh": true, ".bash": true, ".zsh": true, ".bat": true, ".cmd": true, ".ps1": true,
		".zip": true, ".tar": true, ".gz": true, ".tgz": true, ".rar": true, ".7z": true,
		".jar": true, ".msi": true, ".deb": true, ".rpm": true, ".app": true, ".apk": true,
	}

	// allowedDotfiles are conventional ignore files
	allowedDotfiles = map[string]bool{
		".gitignore": true,
		".npmignore": true,
	}

	sensitiveKeyMarkers = []string{"password", "secret", "token", "apikey", "private"}
	commentPrefixes     = []string{"//", "/*", "*", "<!--", "{#", "{% comment"}
	hashCommentExts     = map[string]bool{".yml": true, ".yaml": true}

	scriptTagPattern = regexp.MustCompile(`(?i)<script\b([^>]*)>`)
	scriptSrcPattern = regexp.MustCompile(`(?i)\bsrc\s*=\s*["']?([^"'\s>]+)`)
)
