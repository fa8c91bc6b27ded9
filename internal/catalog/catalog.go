// Package catalog holds the static attack pattern reference data used for
// operator-facing recommendations. It never feeds decision logic.
package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"astra-responder/internal/schema"
)

// Pattern describes one attack pattern: what it looks like and what to do
// about it.
type Pattern struct {
	AlertType       schema.AlertType `json:"alert_type" yaml:"alert_type"`
	Description     string           `json:"description" yaml:"description"`
	Signs           []string         `json:"signs" yaml:"signs"`
	Countermeasures []string         `json:"countermeasures" yaml:"countermeasures"`
}

// Catalog is a read-only lookup from alert type to pattern.
type Catalog struct {
	patterns map[schema.AlertType]Pattern
	order    []schema.AlertType
}

// New returns a catalog seeded with the built-in patterns.
func New() *Catalog {
	c := &Catalog{patterns: make(map[schema.AlertType]Pattern)}
	for _, p := range builtinPatterns() {
		c.patterns[p.AlertType] = p
		c.order = append(c.order, p.AlertType)
	}
	return c
}

// LoadFile replaces or extends the built-in patterns from a YAML file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read pattern catalog: %w", err)
	}

	var patterns []Pattern
	if err := yaml.Unmarshal(data, &patterns); err != nil {
		return fmt.Errorf("parse pattern catalog: %w", err)
	}

	for _, p := range patterns {
		if !p.AlertType.IsValid() {
			return fmt.Errorf("pattern catalog: unknown alert type %q", p.AlertType)
		}
		if _, exists := c.patterns[p.AlertType]; !exists {
			c.order = append(c.order, p.AlertType)
		}
		c.patterns[p.AlertType] = p
	}
	return nil
}

// Get returns the pattern for an alert type.
func (c *Catalog) Get(alertType schema.AlertType) (Pattern, bool) {
	p, ok := c.patterns[alertType]
	return p, ok
}

// List returns all patterns in registration order.
func (c *Catalog) List() []Pattern {
	out := make([]Pattern, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.patterns[t])
	}
	return out
}

func builtinPatterns() []Pattern {
	return []Pattern{
		{
			AlertType:   schema.AlertDDoSSynFlood,
			Description: "DDoS attack using a flood of TCP SYN packets",
			Signs: []string{
				"Sharp spike in TCP SYN packets",
				"High SYN to SYN-ACK ratio",
				"Large number of half-open connections",
				"Unusual timing (night, weekends)",
			},
			Countermeasures: []string{
				"Limit new connections per source IP",
				"Enable SYN cookies",
				"Use CDN or anti-DDoS services",
				"Block suspicious IPs",
			},
		},
		{
			AlertType:   schema.AlertDDoSHTTPRPS,
			Description: "DDoS attack against HTTP services",
			Signs: []string{
				"Abnormally high request rate from one IP",
				"Repeated requests to a single endpoint",
				"Rising 503/429 error counts",
				"Degraded server performance",
			},
			Countermeasures: []string{
				"Rate limiting at the web server",
				"Cache static content",
				"Filter by User-Agent",
				"Challenge clients with CAPTCHA",
			},
		},
		{
			AlertType:   schema.AlertPortScan,
			Description: "Port scanning in search of exposed services",
			Signs: []string{
				"Many ports probed from one IP in a short window",
				"Sequential connection attempts",
				"SYN packets without completed handshakes",
				"Horizontal scans (one port, many hosts)",
			},
			Countermeasures: []string{
				"Automatically block scanning IPs",
				"Minimize exposed ports",
				"Deploy honeypots",
				"Monitor and alert on scan activity",
			},
		},
		{
			AlertType:   schema.AlertBruteforceSSH,
			Description: "Password guessing against SSH",
			Signs: []string{
				"Many failed login attempts",
				"Cycling through different usernames",
				"Frequent account lockouts",
				"Logins at unusual hours",
			},
			Countermeasures: []string{
				"Automatic source blocking after repeated failures",
				"Limit login attempts",
				"Prefer key-based authentication",
				"Require multi-factor authentication",
			},
		},
		{
			AlertType:   schema.AlertBruteforceHTTP,
			Description: "Password guessing against web applications",
			Signs: []string{
				"Many HTTP 401/403 responses",
				"Repeated POST requests to login endpoints",
				"Dictionary password patterns",
				"Anomalous activity from a single IP",
			},
			Countermeasures: []string{
				"Application-level rate limiting",
				"CAPTCHA after several failures",
				"Block the IP after N attempts",
				"Strengthen password policies",
			},
		},
		{
			AlertType:   schema.AlertARPSpoof,
			Description: "ARP spoofing to intercept traffic",
			Signs: []string{
				"Duplicate ARP entries (one MAC for several IPs)",
				"Sudden MAC address change for an IP",
				"Anomalous ARP activity",
				"ARP flooding on the segment",
			},
			Countermeasures: []string{
				"Dynamic ARP Inspection on switches",
				"Static ARP entries for critical hosts",
				"Monitor ARP tables",
				"Isolate suspicious devices",
			},
		},
		{
			AlertType:   schema.AlertARPFlood,
			Description: "ARP request flooding exhausting switch tables",
			Signs: []string{
				"Sustained ARP broadcast volume",
				"Switch CAM table churn",
				"Degraded segment performance",
			},
			Countermeasures: []string{
				"Isolate the flooding host",
				"Enable storm control on switches",
				"Alert on broadcast thresholds",
			},
		},
		{
			AlertType:   schema.AlertDNSNXDomainFlood,
			Description: "DDoS attack against DNS via NXDOMAIN responses",
			Signs: []string{
				"Large volume of NXDOMAIN responses",
				"Queries for nonexistent domains",
				"Overloaded DNS server",
				"Degraded DNS performance",
			},
			Countermeasures: []string{
				"Rate limiting on the DNS server",
				"Cache NXDOMAIN responses",
				"Filter suspicious query patterns",
				"Use Anycast DNS",
			},
		},
		{
			AlertType:   schema.AlertDNSRandomSubdomains,
			Description: "Random subdomain generation to bypass filters",
			Signs: []string{
				"High entropy in queried names",
				"Long random subdomain labels",
				"Bulk queries across subdomains",
				"Blacklist evasion attempts",
			},
			Countermeasures: []string{
				"Analyze domain name entropy",
				"Block by generation patterns",
				"Wildcard DNS for known zones",
				"Monitor anomalous DNS activity",
			},
		},
		{
			AlertType:   schema.AlertLateralMovement,
			Description: "Movement between internal hosts after initial compromise",
			Signs: []string{
				"Internal host reaching unusual peers",
				"Remote execution or admin-share access",
				"Credential use from unexpected hosts",
			},
			Countermeasures: []string{
				"Isolate the source host pending investigation",
				"Segment the internal network",
				"Rotate exposed credentials",
			},
		},
		{
			AlertType:   schema.AlertAnomaly,
			Description: "Statistical anomaly without a specific attack signature",
			Signs: []string{
				"Traffic or behavior outside the learned baseline",
				"No matching known attack pattern",
			},
			Countermeasures: []string{
				"Notify the on-call operator",
				"Record full context for investigation",
			},
		},
	}
}
