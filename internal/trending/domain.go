// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package trending

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// baseDomain reduces a link to its registrable domain
// (news.example.co.uk -> example.co.uk). Unparseable links fall back
// to the raw host so they still count as one distinct source.
func baseDomain(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(link))
	}
	host := strings.ToLower(u.Hostname())
	base, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return base
}

// trustedSet builds a lookup set from the configured allow-list.
func trustedSet(domains []string) map[string]struct{} {
	set := make(map[string]struct{}, len(domains))
	for _, d := range domains {
		set[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
	}
	return set
}

// isTrusted reports whether the base domain is on the allow-list,
// either exactly or as a suffix match (edition.cnn.com matches
// cnn.com).
func isTrusted(trusted map[string]struct{}, base string) bool {
	if _, ok := trusted[base]; ok {
		return true
	}
	for d := range trusted {
		if strings.HasSuffix(base, "."+d) {
			return true
		}
	}
	return false
}
