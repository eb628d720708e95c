package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	logx "chatwatch/pkg/logx"
)

// ShortcutsSender invokes a user-provided Shortcuts automation with a JSON
// payload on stdin. Useful where script automation is locked down but a
// shortcut has been granted send permission.
type ShortcutsSender struct {
	// ShortcutName is the automation to run.
	ShortcutName string
	// Binary overrides the shortcuts path (tests).
	Binary string
	Log    logx.Logger

	runCmd func(ctx context.Context, bin, name string, stdin []byte) ([]byte, error)
}

func NewShortcutsSender(name string, log logx.Logger) *ShortcutsSender {
	return &ShortcutsSender{ShortcutName: name, Log: log}
}

func (s *ShortcutsSender) Name() string { return "shortcuts" }

type shortcutInput struct {
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
	FilePath  string `json:"file_path,omitempty"`
}

func (s *ShortcutsSender) Send(ctx context.Context, p Payload) error {
	if strings.TrimSpace(s.ShortcutName) == "" {
		return fmt.Errorf("shortcuts: no shortcut configured")
	}
	input, err := json.Marshal(shortcutInput{
		Recipient: p.Recipient,
		Message:   p.Text,
		FilePath:  p.FilePath,
	})
	if err != nil {
		return fmt.Errorf("shortcuts: encode input: %w", err)
	}
	bin := s.Binary
	if bin == "" {
		bin = "shortcuts"
	}
	run := s.runCmd
	if run == nil {
		run = runShortcut
	}
	out, err := run(ctx, bin, s.ShortcutName, input)
	if err != nil {
		return fmt.Errorf("shortcuts %q: %w: %s", s.ShortcutName, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func runShortcut(ctx context.Context, bin, name string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, "run", name)
	cmd.Stdin = bytes.NewReader(stdin)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.Bytes(), err
}
