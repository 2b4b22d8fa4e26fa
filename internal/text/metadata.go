package text

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Category string

const (
	CategoryInstallation    Category = "installation"
	CategoryNetworking      Category = "networking"
	CategorySecurity        Category = "security"
	CategoryStorage         Category = "storage"
	CategoryVirtualization  Category = "virtualization"
	CategoryContainers      Category = "containers"
	CategoryTroubleshooting Category = "troubleshooting"
	CategoryGeneral         Category = "general"
)

const (
	UnknownVersion = "unknown"
	DefaultSection = "Content"

	maxTags         = 10
	maxSectionLines = 5
	maxSectionWords = 8
	maxSectionRunes = 100
)

type categoryKeywords struct {
	category Category
	keywords []string
}

// categoryTable is scanned in order; on equal scores the earlier entry wins.
var categoryTable = []categoryKeywords{
	{CategoryInstallation, []string{"install", "setup", "deployment", "bootstrap"}},
	{CategoryNetworking, []string{"network", "ip", "dns", "dhcp", "firewall", "iptables"}},
	{CategorySecurity, []string{"security", "selinux", "firewalld", "authentication", "ssl", "tls", "encryption"}},
	{CategoryStorage, []string{"storage", "filesystem", "disk", "lvm", "raid", "mount"}},
	{CategoryVirtualization, []string{"kvm", "qemu", "libvirt", "virtual", "hypervisor"}},
	{CategoryContainers, []string{"container", "podman", "docker", "kubernetes", "openshift"}},
	{CategoryTroubleshooting, []string{"troubleshoot", "debug", "error", "problem", "issue"}},
}

var (
	versionPattern = regexp.MustCompile(`(?i)(?:RHEL|Red Hat Enterprise Linux)\s*(\d+(?:\.\d+)?)`)

	tagPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(systemctl|systemd|firewalld|selinux|podman|docker)\b`),
		regexp.MustCompile(`\b(yum|dnf|rpm|subscription-manager)\b`),
		regexp.MustCompile(`\b(ssh|http|https|ftp|nfs|samba)\b`),
		regexp.MustCompile(`\b(tcp|udp|ip|dns|dhcp)\b`),
	}
)

// Categories lists every category in table order followed by general.
func Categories() []Category {
	out := make([]Category, 0, len(categoryTable)+1)
	for _, c := range categoryTable {
		out = append(out, c.category)
	}
	return append(out, CategoryGeneral)
}

// IsCategory reports whether name is one of Categories.
func IsCategory(name string) bool {
	for _, c := range Categories() {
		if string(c) == name {
			return true
		}
	}
	return false
}

// DetectVersion returns "rhel<major>" for the first RHEL version mention.
func DetectVersion(text string) string {
	m := versionPattern.FindStringSubmatch(text)
	if m == nil {
		return UnknownVersion
	}
	major, _, _ := strings.Cut(m[1], ".")
	return "rhel" + major
}

// Categorize scores each category by keyword occurrences in the lower-cased
// text and returns the best one, or general when nothing matches.
func Categorize(text string) Category {
	lower := strings.ToLower(text)

	best, bestScore := CategoryGeneral, 0
	for _, entry := range categoryTable {
		score := 0
		for _, kw := range entry.keywords {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			best, bestScore = entry.category, score
		}
	}
	return best
}

// ExtractTags returns the sorted set of known tool and protocol names found in
// text, at most ten of them.
func ExtractTags(text string) []string {
	lower := strings.ToLower(text)

	seen := make(map[string]struct{})
	for _, re := range tagPatterns {
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			seen[m[1]] = struct{}{}
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}

// ExtractSectionTitle picks a heading-like line from the first five lines.
func ExtractSectionTitle(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > maxSectionLines {
		lines = lines[:maxSectionLines]
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isUpper(line) ||
			strings.HasPrefix(line, "Chapter") ||
			strings.HasPrefix(line, "Section") ||
			len(strings.Fields(line)) <= maxSectionWords {
			return truncateRunes(line, maxSectionRunes)
		}
	}
	return DefaultSection
}

// isUpper is true when s has at least one cased letter and no lower-case ones.
func isUpper(s string) bool {
	cased := false
	for _, r := range s {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) || unicode.IsTitle(r) {
			cased = true
		}
	}
	return cased
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
