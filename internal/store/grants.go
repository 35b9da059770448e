// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SG Reports Contributors

package store

import (
	"fmt"
	"sort"
	"strings"
)

// GrantReport is the difference between the restricted role's privileges and
// the validator allowlist. The two must move in lockstep.
type GrantReport struct {
	// GrantedNotAllowed are tables the role can read that the validator
	// would reject.
	GrantedNotAllowed []string
	// AllowedNotGranted are allowlisted tables the role cannot read.
	AllowedNotGranted []string
	// NonSelect lists every privilege other than SELECT as "table:PRIVILEGE".
	NonSelect []string
}

// OK reports whether the grants match the allowlist exactly.
func (r GrantReport) OK() bool {
	return len(r.GrantedNotAllowed) == 0 && len(r.AllowedNotGranted) == 0 && len(r.NonSelect) == 0
}

// String renders the mismatches for logs and CLI output.
func (r GrantReport) String() string {
	if r.OK() {
		return "grants match allowlist"
	}
	var parts []string
	if len(r.GrantedNotAllowed) > 0 {
		parts = append(parts, "granted but not allowlisted: "+strings.Join(r.GrantedNotAllowed, ", "))
	}
	if len(r.AllowedNotGranted) > 0 {
		parts = append(parts, "allowlisted but not granted: "+strings.Join(r.AllowedNotGranted, ", "))
	}
	if len(r.NonSelect) > 0 {
		parts = append(parts, "non-SELECT privileges: "+strings.Join(r.NonSelect, ", "))
	}
	return strings.Join(parts, "; ")
}

// CompareGrants checks grants against the allowlist. Table names compare
// case-insensitively.
func CompareGrants(grants []TableGrant, allowlist []string) GrantReport {
	allowed := make(map[string]bool, len(allowlist))
	for _, t := range allowlist {
		allowed[strings.ToLower(t)] = true
	}

	selectable := map[string]bool{}
	nonSelect := map[string]bool{}
	for _, g := range grants {
		table := strings.ToLower(g.Table)
		priv := strings.ToUpper(g.Privilege)
		if priv == "SELECT" {
			selectable[table] = true
			continue
		}
		nonSelect[fmt.Sprintf("%s:%s", table, priv)] = true
	}

	var report GrantReport
	for t := range selectable {
		if !allowed[t] {
			report.GrantedNotAllowed = append(report.GrantedNotAllowed, t)
		}
	}
	for t := range allowed {
		if !selectable[t] {
			report.AllowedNotGranted = append(report.AllowedNotGranted, t)
		}
	}
	for p := range nonSelect {
		report.NonSelect = append(report.NonSelect, p)
	}
	sort.Strings(report.GrantedNotAllowed)
	sort.Strings(report.AllowedNotGranted)
	sort.Strings(report.NonSelect)
	return report
}
