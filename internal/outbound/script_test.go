package outbound

import (
	"context"
	"strings"
	"testing"
)

func TestBuildSendScript(t *testing.T) {
	t.Parallel()

	s := buildSendScript(Payload{Recipient: "+15551234567", Text: "hello"}, false)
	for _, want := range []string{
		`participant "+15551234567"`,
		`send "hello" to targetBuddy`,
		`tell application "Messages"`,
	} {
		if !strings.Contains(s, want) {
			t.Errorf("script missing %q:\n%s", want, s)
		}
	}
	if strings.Contains(s, "SMS") {
		t.Error("SMS clause present without fallback enabled")
	}
}

func TestBuildSendScriptSMSFallback(t *testing.T) {
	t.Parallel()

	s := buildSendScript(Payload{Recipient: "+15551234567", Text: "hi"}, true)
	for _, want := range []string{"try", "on error", `service type = SMS`, "end try"} {
		if !strings.Contains(s, want) {
			t.Errorf("script missing %q:\n%s", want, s)
		}
	}
}

func TestBuildSendScriptEscapesQuotes(t *testing.T) {
	t.Parallel()

	s := buildSendScript(Payload{Recipient: "user@example.com", Text: `say "hi" \ bye`}, false)
	if !strings.Contains(s, `send "say \"hi\" \\ bye"`) {
		t.Errorf("quotes not escaped:\n%s", s)
	}
}

func TestBuildSendScriptFile(t *testing.T) {
	t.Parallel()

	s := buildSendScript(Payload{Recipient: "user@example.com", FilePath: "/tmp/pic.png"}, false)
	if !strings.Contains(s, `POSIX file "/tmp/pic.png"`) {
		t.Errorf("file clause missing:\n%s", s)
	}
	if !strings.Contains(s, "send theFile to targetBuddy") {
		t.Errorf("file send missing:\n%s", s)
	}
	if strings.Contains(s, `send "" to`) {
		t.Errorf("empty text send emitted:\n%s", s)
	}
}

func TestScriptSenderRunsCommand(t *testing.T) {
	t.Parallel()

	var gotStdin string
	s := &ScriptSender{
		runCmd: func(ctx context.Context, bin, stdin string) ([]byte, error) {
			gotStdin = stdin
			return nil, nil
		},
	}
	err := s.Send(context.Background(), Payload{Recipient: "+15551234567", Text: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(gotStdin, `send "hi"`) {
		t.Errorf("script not passed on stdin:\n%s", gotStdin)
	}
}
