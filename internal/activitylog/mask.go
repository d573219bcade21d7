package activitylog

import "net/url"

// maxPathPrefix is the longest path prefix retained when masking a
// webhook URL (spec §4.6).
const maxPathPrefix = 20

// maskWebhookURL rewrites raw to scheme://host plus an up-to-20-char path
// prefix, replacing the remainder with "...". A malformed, non-absolute or
// non-http(s) URL becomes the literal string "***". Idempotent: masking an
// already-masked value returns it unchanged (its path prefix is already
// truncated below the limit).
func maskWebhookURL(raw string) string {
	if raw == "" {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "***"
	}

	prefix := u.Path
	truncated := len(prefix) > maxPathPrefix
	if truncated {
		prefix = prefix[:maxPathPrefix]
	}

	masked := u.Scheme + "://" + u.Host + prefix
	if truncated || u.RawQuery != "" || u.Fragment != "" {
		masked += "..."
	}
	return masked
}

// maskDetails returns a shallow copy of details with any key that looks
// like a webhook URL field ("webhookUrl", "webhook_url", "url") masked.
// Nested maps (e.g. metadata) are masked recursively; nil is returned
// unchanged.
func maskDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		switch val := v.(type) {
		case string:
			if isWebhookURLKey(k) {
				out[k] = maskWebhookURL(val)
			} else {
				out[k] = val
			}
		case map[string]any:
			out[k] = maskDetails(val)
		default:
			out[k] = v
		}
	}
	return out
}

func isWebhookURLKey(key string) bool {
	switch key {
	case "webhookUrl", "webhook_url", "url":
		return true
	default:
		return false
	}
}
