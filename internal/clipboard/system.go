package clipboard

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"
)

// ErrNoClipboardTool means no supported clipboard utility was found on PATH.
var ErrNoClipboardTool = errors.New("no clipboard tool available")

// System reads and writes the OS clipboard through the platform's standard
// command-line tools: wl-clipboard or xclip/xsel on Linux, pbcopy/pbpaste on
// macOS. Poll swallows tool errors and reports an empty payload, so a
// transiently unavailable clipboard never stalls the sync loop.
type System struct {
	readCmd  []string
	writeCmd []string
}

// NewSystem probes for a usable clipboard tool.
func NewSystem() (*System, error) {
	if runtime.GOOS == "darwin" {
		return &System{
			readCmd:  []string{"pbpaste"},
			writeCmd: []string{"pbcopy"},
		}, nil
	}

	if os.Getenv("WAYLAND_DISPLAY") != "" {
		if _, err := exec.LookPath("wl-paste"); err == nil {
			return &System{
				readCmd:  []string{"wl-paste", "--no-newline"},
				writeCmd: []string{"wl-copy"},
			}, nil
		}
	}
	if _, err := exec.LookPath("xclip"); err == nil {
		return &System{
			readCmd:  []string{"xclip", "-selection", "clipboard", "-o"},
			writeCmd: []string{"xclip", "-selection", "clipboard"},
		}, nil
	}
	if _, err := exec.LookPath("xsel"); err == nil {
		return &System{
			readCmd:  []string{"xsel", "--clipboard", "--output"},
			writeCmd: []string{"xsel", "--clipboard", "--input"},
		}, nil
	}
	return nil, fmt.Errorf("%w: install wl-clipboard, xclip, or xsel", ErrNoClipboardTool)
}

// Poll returns the current clipboard contents, or an empty snapshot when the
// tool fails (no selection owner, display gone).
func (s *System) Poll() Snapshot {
	cmd := exec.Command(s.readCmd[0], s.readCmd[1:]...)
	out, err := cmd.Output()
	if err != nil || len(out) == 0 {
		return Snapshot{}
	}
	return Snapshot{
		Payload:   out,
		Metadata:  map[string]any{"type": "text", "length": len(out)},
		Timestamp: time.Now(),
	}
}

// Write replaces the clipboard contents.
func (s *System) Write(payload []byte, metadata map[string]any) error {
	cmd := exec.Command(s.writeCmd[0], s.writeCmd[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("clipboard write: %w", err)
	}
	return nil
}
