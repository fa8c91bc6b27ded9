package policy

import (
	"astra-responder/internal/schema"
)

// Defaults returns the built-in policy table. Ordering within a list is the
// execution order: mitigations that shape traffic come before hard blocks.
func Defaults() map[schema.AlertType][]ActionConfig {
	return map[schema.AlertType][]ActionConfig{
		schema.AlertDDoSSynFlood: {
			{
				ActionType:  schema.ActionRateLimit,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  30,
				Parameters:  map[string]any{"max_connections_per_second": 10},
			},
			{
				ActionType: schema.ActionBlockIP,
				Enabled:    true,
				TTLMinutes: 60,
				Conditions: []string{"confidence > 0.9"},
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertDDoSHTTPRPS: {
			{
				ActionType:  schema.ActionRateLimit,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  15,
				Parameters:  map[string]any{"max_requests_per_second": 50},
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertPortScan: {
			{
				ActionType:  schema.ActionBlockIP,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  120,
				Conditions:  []string{"confidence > 0.8"},
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertBruteforceSSH: {
			{
				ActionType:  schema.ActionBlockIP,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  180,
				Conditions:  []string{"confidence > 0.7"},
			},
			{
				ActionType: schema.ActionRestartService,
				Enabled:    true,
				Parameters: map[string]any{"service": "ssh"},
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertBruteforceHTTP: {
			{
				ActionType:  schema.ActionRateLimit,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  60,
				Parameters:  map[string]any{"max_requests_per_minute": 10},
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertARPSpoof: {
			{
				ActionType:  schema.ActionIsolateHost,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  300,
				Conditions:  []string{"confidence > 0.9"},
			},
			{
				ActionType:  schema.ActionFlushCache,
				Enabled:     true,
				AutoExecute: true,
				Parameters:  map[string]any{"cache_type": "arp"},
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertARPFlood: {
			{
				ActionType:  schema.ActionIsolateHost,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  60,
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertDNSNXDomainFlood: {
			{
				ActionType:  schema.ActionRateLimit,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  30,
				Parameters:  map[string]any{"max_queries_per_second": 20},
			},
			{
				ActionType: schema.ActionRestartService,
				Enabled:    true,
				Parameters: map[string]any{"service": "named"},
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertDNSRandomSubdomains: {
			{
				ActionType:  schema.ActionBlockIP,
				Enabled:     true,
				AutoExecute: true,
				TTLMinutes:  90,
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertLateralMovement: {
			{
				ActionType: schema.ActionIsolateHost,
				Enabled:    true,
				TTLMinutes: 1440, // 24 hours, manual approval
			},
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
		},
		schema.AlertAnomaly: {
			{
				ActionType:  schema.ActionNotifyAdmin,
				Enabled:     true,
				AutoExecute: true,
			},
			{
				ActionType:  schema.ActionLogEvent,
				Enabled:     true,
				AutoExecute: true,
			},
		},
	}
}
