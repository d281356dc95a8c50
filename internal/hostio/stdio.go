package hostio

import (
	"io"
	"os"
	"sync"
	"time"
)

// Stdio is a HostAdapter over the process's own stdin/stdout, standing in
// for the serial link a real embedding would own (spec §1, §6). Intended
// for cmd/vmhost's local manual exercising of the dispatcher, not for
// production use — a real board replaces this with its UART driver.
//
// ReadBytes must never block the dispatcher's tick, but os.Stdin.Read
// does; a background goroutine absorbs that blocking read and feeds a
// buffered queue ReadBytes can drain non-blockingly, the same shape
// Loopback uses for tests.
type Stdio struct {
	mu      sync.Mutex
	pending []byte

	out       io.Writer
	boardType string
	start     time.Time
}

// NewStdio wraps os.Stdin/os.Stdout as a HostAdapter and starts the
// background stdin reader.
func NewStdio(boardType string) *Stdio {
	s := &Stdio{
		out:       os.Stdout,
		boardType: boardType,
		start:     time.Now(),
	}
	go s.readLoop()
	return s
}

func (s *Stdio) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			s.mu.Lock()
			s.pending = append(s.pending, buf[:n]...)
			s.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// ReadBytes implements HostAdapter: drains whatever the background
// reader has buffered so far, without blocking.
func (s *Stdio) ReadBytes(buf []byte) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(buf, s.pending)
	s.pending = s.pending[n:]
	return n
}

// SendByte implements HostAdapter.
func (s *Stdio) SendByte(b byte) bool {
	_, err := s.out.Write([]byte{b})
	return err == nil
}

// Microsecs implements HostAdapter with a free-running counter derived
// from the process's own monotonic clock.
func (s *Stdio) Microsecs() uint32 {
	return uint32(time.Since(s.start).Microseconds())
}

// SystemReset implements HostAdapter. A stdio-hosted process has no
// device to reboot; it exits instead, letting a supervising process
// restart it the way a watchdog would a real board.
func (s *Stdio) SystemReset() {
	os.Exit(0)
}

// BoardType implements HostAdapter.
func (s *Stdio) BoardType() string { return s.boardType }
