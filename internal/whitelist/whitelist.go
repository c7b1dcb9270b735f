package whitelist

import (
	"net/mail"
	"strings"

	"go.uber.org/zap"
)

// Checker tells whether a sender belongs to a trusted domain
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker creates a new checker; a domain also trusts its subdomains
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := make([]string, 0, len(domains))
	for _, domain := range domains {
		d := strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
		if d != "" {
			normalized = append(normalized, d)
		}
	}

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized trusted domain checker", zap.Strings("domains", normalized))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// IsWhitelisted checks a bare address or a "Name <addr>" header value
func (c *Checker) IsWhitelisted(from string) bool {
	if len(c.domains) == 0 {
		return false
	}

	domain := Domain(from)
	if domain == "" {
		return false
	}

	for _, trusted := range c.domains {
		if domain == trusted || strings.HasSuffix(domain, "."+trusted) {
			if c.logger != nil {
				c.logger.Debug("Sender domain is trusted",
					zap.String("domain", domain),
					zap.String("email", from))
			}
			return true
		}
	}

	return false
}

// Domain returns the lowercased domain of an address, or "" when there is none
func Domain(from string) string {
	addr := strings.TrimSpace(from)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(addr[at+1:], ">"))
}
