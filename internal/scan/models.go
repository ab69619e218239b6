package scan

import "strings"

// Severity is a Trivy vulnerability severity
type Severity string

const (
	SeverityUnknown  Severity = "UNKNOWN"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityUnknown:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// ParseSeverity normalizes s; unknown values map to SeverityUnknown
func ParseSeverity(s string) Severity {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := severityRank[sev]; !ok {
		return SeverityUnknown
	}
	return sev
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Vulnerability is a single finding
type Vulnerability struct {
	ID               string   `json:"VulnerabilityID"`
	PkgName          string   `json:"PkgName"`
	InstalledVersion string   `json:"InstalledVersion"`
	FixedVersion     string   `json:"FixedVersion"`
	Severity         Severity `json:"Severity"`
	Title            string   `json:"Title"`
	Target           string   `json:"-"`
}

// trivyReport is the subset of `trivy image --format json` output we read
type trivyReport struct {
	ArtifactName string `json:"ArtifactName"`
	Results      []struct {
		Target          string          `json:"Target"`
		Vulnerabilities []Vulnerability `json:"Vulnerabilities"`
	} `json:"Results"`
}

// Result is a summarized image scan
type Result struct {
	Image           string           `json:"image"`
	Vulnerabilities []Vulnerability  `json:"vulnerabilities"`
	Counts          map[Severity]int `json:"counts"`
	ReportPath      string           `json:"report_path"`
}

// CountAtLeast returns the number of findings at or above sev
func (r *Result) CountAtLeast(sev Severity) int {
	n := 0
	for s, c := range r.Counts {
		if s.AtLeast(sev) {
			n += c
		}
	}
	return n
}
