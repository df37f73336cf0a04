/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package wsorigin decides which browser origins may open a websocket.
package wsorigin

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Check returns nil when the Origin of r may open a websocket. Requests without an Origin header
// (non browser clients) and same host requests are always allowed. Without patterns any origin is
// allowed; otherwise the origin host must match one of the path.Match patterns, case-insensitively.
func Check(r *http.Request, patterns []string) error {
	if len(patterns) == 0 {
		return nil
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return nil
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid origin %q", origin)
	}

	host := strings.ToLower(u.Host)

	if strings.EqualFold(host, r.Host) {
		return nil
	}

	for _, p := range patterns {
		matched, err := path.Match(strings.ToLower(p), host)
		if err != nil {
			return fmt.Errorf("invalid origin pattern %q: %w", p, err)
		}

		if matched {
			return nil
		}
	}

	return fmt.Errorf("origin %q is not allowed", origin)
}
