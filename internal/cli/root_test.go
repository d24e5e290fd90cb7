package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootCommand_Help(t *testing.T) {
	rootCmd.SetArgs([]string{"--help"})
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	output := buf.String()
	if output == "" {
		t.Error("expected help output, got empty string")
	}
	if !strings.Contains(output, "coedit") {
		t.Error("expected help to contain 'coedit'")
	}
	if !strings.Contains(output, "serve") {
		t.Error("expected help to list the serve command")
	}
}

func TestRootCommand_Version(t *testing.T) {
	SetVersion("1.2.3")
	// The package-level rootCmd retains flag values across Execute
	// calls; clear the help flag a prior test may have set.
	if err := rootCmd.Flags().Set("help", "false"); err != nil {
		t.Fatalf("resetting help flag: %v", err)
	}
	rootCmd.SetArgs([]string{"--version"})
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)

	err := rootCmd.Execute()
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !strings.Contains(buf.String(), "1.2.3") {
		t.Errorf("expected version output to contain version, got %q", buf.String())
	}
}

func TestRootCommand_InvalidCommand(t *testing.T) {
	rootCmd.SetArgs([]string{"invalid-command"})
	var buf bytes.Buffer
	rootCmd.SetErr(&buf)

	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for invalid command")
	}
}
