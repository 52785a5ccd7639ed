package security

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/haasonsaas/delegator/internal/config"
)

// Patterns that suggest a secret is hardcoded rather than injected.
var hardcodedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^sk-[a-zA-Z0-9_-]{20,}`),    // OpenAI-style API key
	regexp.MustCompile(`^ghp_[a-zA-Z0-9]{36}`),      // GitHub personal access token
	regexp.MustCompile(`^github_pat_[a-zA-Z0-9_]+`), // GitHub fine-grained PAT
	regexp.MustCompile(`^hf_[a-zA-Z0-9]{30,}`),      // Hugging Face token
	regexp.MustCompile(`^AKIA[0-9A-Z]{16}`),         // AWS access key
	regexp.MustCompile(`^AIza[0-9A-Za-z_-]{35}`),    // Google API key
}

// interpreters run arbitrary code given any argument, so allow-listing them
// defeats the command guard.
var interpreters = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "fish": true,
	"python": true, "python3": true, "node": true, "perl": true, "ruby": true,
	"env": true, "xargs": true, "sudo": true, "eval": true,
}

var evalSubcommands = map[string]bool{"-c": true, "-e": true, "exec": true, "eval": true}

// auditConfigContent checks configuration values for security issues.
func auditConfigContent(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding
	findings = append(findings, auditSecretsInConfig(cfg)...)
	findings = append(findings, auditTransport(cfg)...)
	findings = append(findings, auditCommands(cfg)...)
	return findings
}

func auditSecretsInConfig(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding

	if key := cfg.VLLM.APIKey; key != "" {
		for _, pattern := range hardcodedPatterns {
			if pattern.MatchString(key) {
				findings = append(findings, AuditFinding{
					CheckID:     "config.hardcoded_api_key",
					Severity:    SeverityWarn,
					Title:       "Potential hardcoded API key",
					Detail:      "vllm.api_key looks like a real credential stored in the config file.",
					Remediation: "Keep the key out of files that are committed or shared.",
				})
				break
			}
		}
	}

	if containsEmbeddedPassword(cfg.VLLM.APIURL) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.url_embedded_password",
			Severity:    SeverityWarn,
			Title:       "Password embedded in vllm.api_url",
			Detail:      "The upstream URL carries user:password credentials, which end up in logs and health reports.",
			Remediation: "Use vllm.api_key instead of URL credentials.",
		})
	}

	return findings
}

// containsEmbeddedPassword checks if a URL contains a password component.
func containsEmbeddedPassword(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return false
	}
	pass, ok := u.User.Password()
	return ok && pass != "" && !strings.HasPrefix(pass, "${")
}

func auditTransport(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding

	if u, err := url.Parse(cfg.VLLM.APIURL); err == nil && u.Scheme == "http" && !isLoopback(u.Hostname()) {
		severity := SeverityInfo
		detail := fmt.Sprintf("Prompts and generated code travel unencrypted to %s.", u.Host)
		if cfg.VLLM.APIKey != "" {
			severity = SeverityWarn
			detail += " The API key is sent in clear text too."
		}
		findings = append(findings, AuditFinding{
			CheckID:     "config.upstream_plaintext",
			Severity:    severity,
			Title:       "Upstream endpoint uses plain HTTP",
			Detail:      detail,
			Remediation: "Serve the model over HTTPS or keep it on localhost.",
		})
	}

	tracing := cfg.Observability.Tracing
	if tracing.Endpoint != "" && tracing.Insecure && !isLoopback(hostOnly(tracing.Endpoint)) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.tracing_insecure",
			Severity:    SeverityInfo,
			Title:       "Traces are exported without TLS",
			Detail:      fmt.Sprintf("observability.tracing.insecure is set for remote endpoint %s.", tracing.Endpoint),
			Remediation: "Set observability.tracing.insecure to false for remote collectors.",
		})
	}

	if addr := cfg.Observability.MetricsAddr; cfg.Features.Metrics && addr != "" && !isLoopback(hostOnly(addr)) {
		findings = append(findings, AuditFinding{
			CheckID:     "config.metrics_exposed",
			Severity:    SeverityInfo,
			Title:       "Metrics listener is reachable from the network",
			Detail:      fmt.Sprintf("observability.metrics_addr %q is not bound to loopback.", addr),
			Remediation: "Bind the metrics listener to 127.0.0.1.",
		})
	}

	return findings
}

func auditCommands(cfg *config.Config) []AuditFinding {
	var findings []AuditFinding
	allow := NewCommandAllowList(cfg.Security.AllowedCommands, cfg.Security.BareCommands)

	for _, program := range allow.Programs() {
		rule := allow[program]
		var evalSubs []string
		for _, sub := range rule.Subcommands {
			if evalSubcommands[sub] {
				evalSubs = append(evalSubs, sub)
			}
		}

		switch {
		case interpreters[program]:
			severity := SeverityWarn
			detail := fmt.Sprintf("%s is allow-listed with subcommands %v.", program, rule.Subcommands)
			if rule.BareAllowed || len(evalSubs) > 0 {
				severity = SeverityCritical
				detail = fmt.Sprintf("%s is allow-listed in a form that runs code given on the command line.", program)
			}
			findings = append(findings, AuditFinding{
				CheckID:     "config.command_interpreter",
				Severity:    severity,
				Title:       fmt.Sprintf("Interpreter %q is allow-listed", program),
				Detail:      detail,
				Remediation: fmt.Sprintf("Remove %s from security.allowed_commands and security.bare_commands.", program),
			})
		case len(evalSubs) > 0:
			findings = append(findings, AuditFinding{
				CheckID:     "config.command_eval_subcommand",
				Severity:    SeverityWarn,
				Title:       fmt.Sprintf("%s %s is allow-listed", program, strings.Join(evalSubs, ", ")),
				Detail:      fmt.Sprintf("These subcommands of %s evaluate code passed on the command line.", program),
				Remediation: fmt.Sprintf("Remove them from security.allowed_commands.%s.", program),
			})
		}
	}

	if len(cfg.Security.AllowedPaths) == 0 {
		findings = append(findings, AuditFinding{
			CheckID:  "config.no_allowed_paths",
			Severity: SeverityInfo,
			Title:    "No allowed paths configured",
			Detail:   "security.allowed_paths is empty, so every file and git tool will be refused.",
		})
	}

	return findings
}

func hostOnly(addr string) string {
	if u, err := url.Parse(addr); err == nil && u.Host != "" {
		return u.Hostname()
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
