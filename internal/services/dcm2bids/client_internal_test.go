package dcm2bids

import (
	"context"
	"os/exec"
	"slices"
	"testing"
)

func TestOutputTailKeepsLastLines(t *testing.T) {
	tail := newTail(2)
	for _, line := range []string{"one", "  ", "two", "three"} {
		tail.add(line)
	}
	if got := tail.String(); got != "two | three" {
		t.Fatalf("tail = %q", got)
	}
}

func TestCommandExecutorForwardsBothStreams(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	var lines []string
	err = commandExecutor{}.Run(context.Background(), sh, []string{"-c", "echo out; echo err 1>&2"}, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	slices.Sort(lines)
	if !slices.Equal(lines, []string{"err", "out"}) {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func TestCommandExecutorReportsExitStatus(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	if err := (commandExecutor{}).Run(context.Background(), sh, []string{"-c", "exit 3"}, nil); err == nil {
		t.Fatal("expected error for non-zero exit")
	}
}
