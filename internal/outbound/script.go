package outbound

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	logx "chatwatch/pkg/logx"
)

// ScriptSender drives the native chat application through osascript. It is
// the default backend on hosts where the observed database lives, since the
// same application owns the outbound channel.
type ScriptSender struct {
	// Binary overrides the osascript path (tests).
	Binary string
	// SMSFallback retries over SMS when the primary service rejects the
	// recipient.
	SMSFallback bool
	Log         logx.Logger

	// runCmd is swappable in tests; defaults to running the command.
	runCmd func(ctx context.Context, bin string, stdin string) ([]byte, error)
}

func NewScriptSender(smsFallback bool, log logx.Logger) *ScriptSender {
	return &ScriptSender{SMSFallback: smsFallback, Log: log}
}

func (s *ScriptSender) Name() string { return "script" }

func (s *ScriptSender) Send(ctx context.Context, p Payload) error {
	script := buildSendScript(p, s.SMSFallback)
	bin := s.Binary
	if bin == "" {
		bin = "osascript"
	}
	run := s.runCmd
	if run == nil {
		run = runOsascript
	}
	out, err := run(ctx, bin, script)
	if err != nil {
		return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func runOsascript(ctx context.Context, bin, stdin string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, "-")
	cmd.Stdin = strings.NewReader(stdin)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}

// buildSendScript produces the send script. Text and file sends share the
// recipient resolution; the SMS clause only engages when the primary
// service cannot reach the recipient.
func buildSendScript(p Payload, smsFallback bool) string {
	var b strings.Builder
	recipient := escapeScriptString(p.Recipient)
	text := escapeScriptString(p.Text)

	b.WriteString("tell application \"Messages\"\n")
	b.WriteString("\tset targetService to 1st account whose service type = iMessage\n")
	fmt.Fprintf(&b, "\tset targetBuddy to participant \"%s\" of targetService\n", recipient)
	if p.FilePath != "" {
		fmt.Fprintf(&b, "\tset theFile to POSIX file \"%s\"\n", escapeScriptString(p.FilePath))
	}
	if smsFallback {
		b.WriteString("\ttry\n\t")
	}
	if p.Text != "" {
		fmt.Fprintf(&b, "\tsend \"%s\" to targetBuddy\n", text)
	}
	if p.FilePath != "" {
		b.WriteString("\tsend theFile to targetBuddy\n")
	}
	if smsFallback {
		b.WriteString("\ton error\n")
		b.WriteString("\t\tset smsService to 1st account whose service type = SMS\n")
		fmt.Fprintf(&b, "\t\tset smsBuddy to participant \"%s\" of smsService\n", recipient)
		if p.Text != "" {
			fmt.Fprintf(&b, "\t\tsend \"%s\" to smsBuddy\n", text)
		}
		if p.FilePath != "" {
			b.WriteString("\t\tsend theFile to smsBuddy\n")
		}
		b.WriteString("\tend try\n")
	}
	b.WriteString("end tell\n")
	return b.String()
}

// escapeScriptString escapes for an AppleScript double-quoted literal.
func escapeScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
