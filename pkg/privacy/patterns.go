package privacy

// defaultPatterns is the built-in redaction library, in declaration order.
// Regex syntax is regexp2 (backreferences and lookarounds); replacements use
// \1 and \g<name> group templates.
var defaultPatterns = []Pattern{
	{
		Name:        "email",
		Regex:       `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		Replacement: "[EMAIL_REDACTED]",
		Description: "Email addresses",
		Enabled:     true,
	},
	{
		Name:        "ssn",
		Regex:       `\b\d{3}-\d{2}-\d{4}\b`,
		Replacement: "[SSN_REDACTED]",
		Description: "US social security numbers",
		Enabled:     true,
	},
	{
		Name:        "credit_card",
		Regex:       `\b(?:4\d{12}(?:\d{3})?|5[1-5]\d{14}|3[47]\d{13}|6(?:011|5\d{2})\d{12})\b`,
		Replacement: "[CARD_REDACTED]",
		Description: "Credit card numbers without separators",
		Enabled:     true,
	},
	{
		Name:        "credit_card_formatted",
		Regex:       `\b\d{4}[-\s]\d{4}[-\s]\d{4}[-\s]\d{1,4}\b`,
		Replacement: "[CARD_REDACTED]",
		Description: "Credit card numbers grouped by spaces or dashes",
		Enabled:     true,
	},
	{
		Name:        "phone_us",
		Regex:       `(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`,
		Replacement: "[PHONE_REDACTED]",
		Description: "US phone numbers",
		Enabled:     true,
	},
	{
		Name:        "ipv4",
		Regex:       `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`,
		Replacement: "[IP_REDACTED]",
		Description: "IPv4 addresses",
		Enabled:     false,
	},
	{
		Name:        "dob",
		Regex:       `\b(?:0?[1-9]|1[0-2])[/-](?:0?[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`,
		Replacement: "[DOB_REDACTED]",
		Description: "Dates of birth (MM/DD/YYYY)",
		Enabled:     true,
	},
	{
		Name:        "zip_code",
		Regex:       `\b\d{5}(?:-\d{4})?\b`,
		Replacement: "[ZIP_REDACTED]",
		Description: "US ZIP codes",
		Enabled:     false,
	},
	{
		Name:        "street_address",
		Regex:       `\b\d{1,5}\s+(?:[A-Za-z0-9]+\s+){1,4}(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Way)\b\.?`,
		Replacement: "[ADDRESS_REDACTED]",
		Description: "US street addresses",
		Enabled:     false,
	},
	{
		Name:        "bank_account",
		Regex:       `\b\d{8,17}\b`,
		Replacement: "[ACCOUNT_REDACTED]",
		Description: "Bank account numbers",
		Enabled:     false,
	},
	{
		Name:          "passport_us",
		Regex:         `\b[A-Z]\d{8}\b`,
		Replacement:   "[PASSPORT_REDACTED]",
		Description:   "US passport numbers",
		Enabled:       true,
		CaseSensitive: true,
	},
	{
		Name:          "drivers_license",
		Regex:         `\b[A-Z]\d{7,12}\b`,
		Replacement:   "[DL_REDACTED]",
		Description:   "Driver's license numbers",
		Enabled:       false,
		CaseSensitive: true,
	},
	{
		Name:        "api_key",
		Regex:       `\b(?:sk|pk|rk)-[A-Za-z0-9_-]{20,}|\b(?:sk|pk|rk)_(?:live|test)_[A-Za-z0-9]{16,}\b|\bgh[pousr]_[A-Za-z0-9]{36,}\b`,
		Replacement: "[API_KEY_REDACTED]",
		Description: "API keys and tokens",
		Enabled:     true,
	},
	{
		Name:          "aws_key",
		Regex:         `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`,
		Replacement:   "[AWS_KEY_REDACTED]",
		Description:   "AWS access key ids",
		Enabled:       true,
		CaseSensitive: true,
	},
	{
		// The value must not start with '[' so an already redacted parameter
		// is left alone.
		Name:        "url_secret",
		Regex:       `\b(token|access_token|refresh_token|id_token|api_key|apikey|key|secret|client_secret|password|passwd|pwd|auth|session|sessionid|sid|signature|sig)=[^&#\s\[][^&#\s]*`,
		Replacement: `\1=[REDACTED]`,
		Description: "Secrets in URL query parameters",
		Enabled:     true,
	},
}

// Defaults returns a copy of the built-in library keyed by name. With
// includeDisabled false only default-enabled patterns are returned.
func Defaults(includeDisabled bool) map[string]Pattern {
	out := make(map[string]Pattern, len(defaultPatterns))
	for _, p := range defaultPatterns {
		if !includeDisabled && !p.Enabled {
			continue
		}
		out[p.Name] = p
	}
	return out
}

// DefaultPatterns returns the built-in library in declaration order.
func DefaultPatterns() []Pattern {
	out := make([]Pattern, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}

// PatternOption customizes a pattern built by NewPattern.
type PatternOption func(*Pattern)

// WithDescription sets the pattern description.
func WithDescription(desc string) PatternOption {
	return func(p *Pattern) { p.Description = desc }
}

// WithCaseSensitive makes the pattern case sensitive.
func WithCaseSensitive() PatternOption {
	return func(p *Pattern) { p.CaseSensitive = true }
}

// Disabled creates the pattern switched off.
func Disabled() PatternOption {
	return func(p *Pattern) { p.Enabled = false }
}

// NewPattern builds a user-defined pattern. Patterns are enabled and case
// insensitive unless options say otherwise.
func NewPattern(name, regex, replacement string, opts ...PatternOption) Pattern {
	p := Pattern{
		Name:        name,
		Regex:       regex,
		Replacement: replacement,
		Enabled:     true,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}
