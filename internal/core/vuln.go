package core

import (
	"fmt"
	"strings"
)

// VulnType tags a vulnerability class an investigation chases.
type VulnType string

const (
	VulnLFI  VulnType = "LFI"  // Local file inclusion / arbitrary file read
	VulnRCE  VulnType = "RCE"  // Remote code execution
	VulnSSRF VulnType = "SSRF" // Server-side request forgery
	VulnAFO  VulnType = "AFO"  // Arbitrary file overwrite / write
	VulnSQLI VulnType = "SQLI" // SQL injection
	VulnXSS  VulnType = "XSS"  // Cross-site scripting
	VulnIDOR VulnType = "IDOR" // Insecure direct object reference
)

// AllVulnTypes lists every supported class in report order.
var AllVulnTypes = []VulnType{
	VulnLFI, VulnRCE, VulnSSRF, VulnAFO, VulnSQLI, VulnXSS, VulnIDOR,
}

var vulnTypeNames = map[VulnType]string{
	VulnLFI:  "Local File Inclusion",
	VulnRCE:  "Remote Code Execution",
	VulnSSRF: "Server-Side Request Forgery",
	VulnAFO:  "Arbitrary File Overwrite",
	VulnSQLI: "SQL Injection",
	VulnXSS:  "Cross-Site Scripting",
	VulnIDOR: "Insecure Direct Object Reference",
}

// Valid reports whether vt is a known vulnerability class.
func (vt VulnType) Valid() bool {
	_, ok := vulnTypeNames[vt]
	return ok
}

// Title returns the human-readable class name.
func (vt VulnType) Title() string {
	if name, ok := vulnTypeNames[vt]; ok {
		return name
	}
	return string(vt)
}

// ParseVulnType normalizes a tag like "rce" or "SQLI" into a VulnType.
func ParseVulnType(s string) (VulnType, error) {
	vt := VulnType(strings.ToUpper(strings.TrimSpace(s)))
	if !vt.Valid() {
		return "", ErrValidation("UNKNOWN_VULN_TYPE", fmt.Sprintf("unknown vulnerability type %q", s))
	}
	return vt, nil
}
