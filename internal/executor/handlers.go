package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"astra-responder/internal/notify"
	"astra-responder/internal/policy"
	"astra-responder/internal/schema"
)

// serviceNamePattern keeps restart targets to plain unit names so that
// config values never reach systemctl as anything else.
var serviceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.@-]+$`)

func (e *Executor) handleBlockIP(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	if alert.SourceIP == "" {
		return "", fmt.Errorf("alert has no source IP to block")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.BlockTimeout)
	defer cancel()

	if err := e.firewall.BlockIP(ctx, alert.SourceIP); err != nil {
		return "", err
	}

	block, extended := e.blocks.Upsert(alert.SourceIP, schema.ActionBlockIP, cfg.TTL(), alert.AlertType)
	return blockDetail("blocked", alert.SourceIP, block.ExpiresAt != nil, cfg, extended), nil
}

func (e *Executor) handleRateLimit(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	if alert.SourceIP == "" {
		return "", fmt.Errorf("alert has no source IP to rate limit")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.BlockTimeout)
	defer cancel()

	if err := e.firewall.RateLimitIP(ctx, alert.SourceIP); err != nil {
		return "", err
	}

	block, extended := e.blocks.Upsert(alert.SourceIP, schema.ActionRateLimit, cfg.TTL(), alert.AlertType)
	return blockDetail("rate limited", alert.SourceIP, block.ExpiresAt != nil, cfg, extended), nil
}

func (e *Executor) handleIsolateHost(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	if alert.SourceIP == "" {
		return "", fmt.Errorf("alert has no source IP to isolate")
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.BlockTimeout)
	defer cancel()

	if err := e.firewall.IsolateHost(ctx, alert.SourceIP); err != nil {
		return "", err
	}

	block, extended := e.blocks.Upsert(alert.SourceIP, schema.ActionIsolateHost, cfg.TTL(), alert.AlertType)
	return blockDetail("isolated", alert.SourceIP, block.ExpiresAt != nil, cfg, extended), nil
}

func blockDetail(verb, target string, temporary bool, cfg policy.ActionConfig, extended bool) string {
	detail := fmt.Sprintf("%s %s", verb, target)
	if temporary {
		detail += fmt.Sprintf(" for %s", cfg.TTL())
	} else {
		detail += " permanently"
	}
	if extended {
		detail += " (existing enforcement extended)"
	}
	return detail
}

func (e *Executor) handleRestartService(ctx context.Context, _ schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	service, ok := paramString(cfg, "service")
	if !ok || service == "" {
		return "", fmt.Errorf("restart_service requires a 'service' parameter")
	}
	if !serviceNamePattern.MatchString(service) {
		return "", fmt.Errorf("invalid service name %q", service)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.ServiceTimeout)
	defer cancel()

	out, err := e.run(ctx, "systemctl", "restart", service)
	if err != nil {
		return "", fmt.Errorf("systemctl restart %s: %w (output: %s)",
			service, err, strings.TrimSpace(string(out)))
	}
	return fmt.Sprintf("restarted service %s", service), nil
}

func (e *Executor) handleFlushCache(ctx context.Context, _ schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	cacheType, ok := paramString(cfg, "cache_type")
	if !ok || cacheType == "" {
		cacheType = "arp"
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.ServiceTimeout)
	defer cancel()

	var name string
	var args []string
	switch cacheType {
	case "arp":
		name, args = "ip", []string{"neigh", "flush", "all"}
	case "dns":
		name, args = "resolvectl", []string{"flush-caches"}
	default:
		return "", fmt.Errorf("unknown cache_type %q (want arp or dns)", cacheType)
	}

	out, err := e.run(ctx, name, args...)
	if err != nil {
		return "", fmt.Errorf("flushing %s cache: %w (output: %s)",
			cacheType, err, strings.TrimSpace(string(out)))
	}
	return fmt.Sprintf("flushed %s cache", cacheType), nil
}

func (e *Executor) handleNotifyAdmin(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	message, _ := paramString(cfg, "message")
	if message == "" {
		message = schema.ActionNotifyAdmin.Description()
	}

	notice := notify.Notice{
		Title:      fmt.Sprintf("%s detected", alert.AlertType),
		Message:    message,
		AlertType:  alert.AlertType,
		ActionType: schema.ActionNotifyAdmin,
		Severity:   alert.Severity,
		SourceIP:   alert.SourceIP,
		TargetIP:   alert.TargetIP,
		Confidence: alert.Confidence,
		Timestamp:  alert.Timestamp,
	}

	if err := e.notifier.Notify(ctx, notice); err != nil {
		return "", err
	}

	channels := e.notifier.Channels()
	if len(channels) == 0 {
		return "no notification channels configured", nil
	}
	return fmt.Sprintf("notified %s", strings.Join(channels, ", ")), nil
}

func (e *Executor) handleLogEvent(_ context.Context, alert schema.AlertContext, _ policy.ActionConfig) (string, error) {
	e.logger.Info("alert recorded",
		"alert_type", alert.AlertType,
		"severity", alert.Severity,
		"source_ip", alert.SourceIP,
		"target_ip", alert.TargetIP,
		"confidence", alert.Confidence,
	)
	return fmt.Sprintf("logged %s alert from %s", alert.AlertType, alert.SourceIP), nil
}

func (e *Executor) handleCustomScript(ctx context.Context, alert schema.AlertContext, cfg policy.ActionConfig) (string, error) {
	script, ok := paramString(cfg, "script_path")
	if !ok || script == "" {
		return "", fmt.Errorf("custom_script requires a 'script_path' parameter")
	}
	if !filepath.IsAbs(script) {
		return "", fmt.Errorf("script path must be absolute, got %q", script)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.ScriptTimeout)
	defer cancel()

	env := []string{
		"ALERT_TYPE=" + string(alert.AlertType),
		"SOURCE_IP=" + alert.SourceIP,
		"TARGET_IP=" + alert.TargetIP,
		"SEVERITY=" + string(alert.Severity),
		"CONFIDENCE=" + fmt.Sprintf("%.4f", alert.Confidence),
	}

	out, err := e.runEnv(ctx, env, script)
	if err != nil {
		return "", fmt.Errorf("script %s: %w (output: %s)",
			script, err, strings.TrimSpace(string(out)))
	}
	return fmt.Sprintf("script %s completed", script), nil
}
