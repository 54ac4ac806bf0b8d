package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"ptybridge/internal/handshake"
	"ptybridge/internal/infrastructure/network"
)

var errEmptyCommand = errors.New("empty command")

// Command starts argv on a new pseudo-terminal and reads its output with
// the scratch scanner, so that login noise may precede the hello.
func Command(argv []string, opts Options, log *slog.Logger) (*Remote, error) {
	if len(argv) == 0 {
		return nil, errEmptyCommand
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 80})
	if err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	// Duplicate so the descriptor outlives ptmx and its finalizer.
	fd, err := unix.Dup(int(ptmx.Fd()))
	ptmx.Close()
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("dup pty: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("set nonblock: %w", err)
	}

	log = log.With("transport", "command", "pid", cmd.Process.Pid)
	log.Debug("Command started", "argv", argv)

	r := newRemote(network.NewFDConn(fd), handshake.NewScratchScanner(), opts, log)
	r.release = func() {
		// The local peer owns the terminal from here on.
		go cmd.Wait()
	}
	r.abort = func() {
		if err := cmd.Process.Signal(os.Kill); err != nil {
			log.Debug("Kill failed", "error", err)
		}
		go cmd.Wait()
	}
	return r, nil
}
