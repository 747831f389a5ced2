package health

import "regexp"

// Error strings from the OPC UA, Modbus, and NATS clients tend to embed
// endpoint URLs, file paths, and sometimes credentials from a
// misconfigured connection string. /healthz can be scraped from outside
// the plant network, so every message passes through this table before
// it is reported.
var redactions = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	// key=value credential pairs go first, before the URL rule can
	// swallow a password embedded in a connection string
	{regexp.MustCompile(`(?i)(password|passwd|token|secret|credential|apikey|api_key)\s*[:=]\s*[^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`(?:https?|wss?|nats|opc\.tcp|tls)://\S+`), "[URL]"},
	{regexp.MustCompile(`[A-Za-z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`/[A-Za-z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}(?:\.\d{1,3}){3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

func redactErrorMessage(msg string) string {
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.repl)
	}
	return msg
}
