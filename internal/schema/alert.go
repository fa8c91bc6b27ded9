// Package schema defines the canonical alert context consumed by the
// action engine. The detection pipeline produces these; the engine only
// reads them and never persists the context itself.
package schema

import (
	"time"
)

// AlertType categorizes a detected security event.
type AlertType string

const (
	AlertDDoSSynFlood        AlertType = "ddos_syn_flood"
	AlertDDoSHTTPRPS         AlertType = "ddos_http_rps"
	AlertPortScan            AlertType = "port_scan"
	AlertBruteforceSSH       AlertType = "bruteforce_ssh"
	AlertBruteforceHTTP      AlertType = "bruteforce_http"
	AlertARPSpoof            AlertType = "arp_spoof"
	AlertARPFlood            AlertType = "arp_flood"
	AlertDNSNXDomainFlood    AlertType = "dns_nxdomain_flood"
	AlertDNSRandomSubdomains AlertType = "dns_random_subdomains"
	AlertLateralMovement     AlertType = "lateral_movement"
	AlertAnomaly             AlertType = "anomaly_detection"
)

// AlertTypes lists every known alert type in a stable order.
func AlertTypes() []AlertType {
	return []AlertType{
		AlertDDoSSynFlood,
		AlertDDoSHTTPRPS,
		AlertPortScan,
		AlertBruteforceSSH,
		AlertBruteforceHTTP,
		AlertARPSpoof,
		AlertARPFlood,
		AlertDNSNXDomainFlood,
		AlertDNSRandomSubdomains,
		AlertLateralMovement,
		AlertAnomaly,
	}
}

// IsValid checks if the alert type is a known value.
func (a AlertType) IsValid() bool {
	for _, t := range AlertTypes() {
		if a == t {
			return true
		}
	}
	return false
}

// Severity is the ordered severity scale for alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for range comparisons.
var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity, -1 if unknown.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// IsValid checks if the severity is a known value.
func (s Severity) IsValid() bool {
	return s.Rank() >= 0
}

// ActionType enumerates the countermeasure kinds the executor dispatches on.
type ActionType string

const (
	ActionBlockIP        ActionType = "block_ip"
	ActionRateLimit      ActionType = "rate_limit"
	ActionIsolateHost    ActionType = "isolate_host"
	ActionRestartService ActionType = "restart_service"
	ActionFlushCache     ActionType = "flush_cache"
	ActionNotifyAdmin    ActionType = "notify_admin"
	ActionLogEvent       ActionType = "log_event"
	ActionCustomScript   ActionType = "custom_script"
)

// ActionTypes lists every action type in a stable order.
func ActionTypes() []ActionType {
	return []ActionType{
		ActionBlockIP,
		ActionRateLimit,
		ActionIsolateHost,
		ActionRestartService,
		ActionFlushCache,
		ActionNotifyAdmin,
		ActionLogEvent,
		ActionCustomScript,
	}
}

// IsValid checks if the action type is a known value.
func (a ActionType) IsValid() bool {
	for _, t := range ActionTypes() {
		if a == t {
			return true
		}
	}
	return false
}

// IsBlocking reports whether a successful execution of this action type
// creates an entry in the active block store.
func (a ActionType) IsBlocking() bool {
	switch a {
	case ActionBlockIP, ActionRateLimit, ActionIsolateHost:
		return true
	}
	return false
}

// Description returns an operator-facing summary of the action type.
func (a ActionType) Description() string {
	switch a {
	case ActionBlockIP:
		return "Drop all traffic from the source address at the firewall"
	case ActionRateLimit:
		return "Throttle connections or requests from the source address"
	case ActionIsolateHost:
		return "Quarantine the host from the rest of the network"
	case ActionRestartService:
		return "Restart an affected system service"
	case ActionFlushCache:
		return "Flush a poisoned cache (ARP or DNS)"
	case ActionNotifyAdmin:
		return "Send a notification to the configured channels"
	case ActionLogEvent:
		return "Record the alert details in the audit trail"
	case ActionCustomScript:
		return "Run an operator-supplied response script"
	}
	return ""
}

// AlertContext is an immutable snapshot of one alert. The engine treats it
// as read-only; only derived records (history, blocks) outlive processing.
type AlertContext struct {
	AlertType  AlertType      `json:"alert_type" validate:"required,alert_type"`
	SourceIP   string         `json:"source_ip,omitempty" validate:"omitempty,ip"`
	TargetIP   string         `json:"target_ip,omitempty" validate:"omitempty,ip"`
	SourcePort int            `json:"source_port,omitempty" validate:"omitempty,min=0,max=65535"`
	TargetPort int            `json:"target_port,omitempty" validate:"omitempty,min=0,max=65535"`
	Protocol   string         `json:"protocol,omitempty" validate:"max=32"`
	User       string         `json:"user,omitempty" validate:"max=256"`
	Domain     string         `json:"domain,omitempty" validate:"max=1024"`
	MACAddress string         `json:"mac_address,omitempty" validate:"omitempty,mac"`
	Severity   Severity       `json:"severity" validate:"required,oneof=info low medium high critical"`
	Confidence float64        `json:"confidence" validate:"min=0,max=1"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Field resolves a condition identifier against the context. The known
// identifiers are fixed; the condition parser rejects anything else at
// config-load time.
func (c *AlertContext) Field(name string) (any, bool) {
	switch name {
	case "alert_type":
		return string(c.AlertType), true
	case "source_ip":
		return c.SourceIP, true
	case "target_ip":
		return c.TargetIP, true
	case "source_port":
		return float64(c.SourcePort), true
	case "target_port":
		return float64(c.TargetPort), true
	case "protocol":
		return c.Protocol, true
	case "user":
		return c.User, true
	case "domain":
		return c.Domain, true
	case "mac_address":
		return c.MACAddress, true
	case "severity":
		return string(c.Severity), true
	case "confidence":
		return c.Confidence, true
	}
	return nil, false
}

// ConditionFields lists the identifiers conditions may reference.
func ConditionFields() []string {
	return []string{
		"alert_type", "source_ip", "target_ip", "source_port", "target_port",
		"protocol", "user", "domain", "mac_address", "severity", "confidence",
	}
}

// IsConditionField reports whether name is a resolvable condition identifier.
func IsConditionField(name string) bool {
	for _, f := range ConditionFields() {
		if f == name {
			return true
		}
	}
	return false
}
