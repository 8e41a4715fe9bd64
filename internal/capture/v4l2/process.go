package v4l2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/camerad/internal/errors"
	"github.com/tphakala/camerad/internal/logger"
)

// processConfig describes one ffmpeg invocation.
type processConfig struct {
	ID          string
	FFmpegPath  string
	Args        []string
	Stdout      io.Writer // nil discards output
	Stdin       bool      // open a pipe for feeding frames
	StopTimeout time.Duration
}

// process wraps an ffmpeg child. Stdout and stderr are consumed by exec's
// own copy goroutines, so Wait does not race with readers.
type process struct {
	id     string
	config processConfig
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *stderrTail

	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
	startErr  error
	running   atomic.Bool
	startTime time.Time

	done    chan struct{}
	waitErr error
}

func newProcess(config processConfig) *process {
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	return &process{
		id:     config.ID,
		config: config,
		stderr: &stderrTail{id: config.ID},
		done:   make(chan struct{}),
	}
}

// Start launches ffmpeg. Calling it again returns the first result.
func (p *process) Start(ctx context.Context) error {
	p.startOnce.Do(func() {
		p.startErr = p.start(ctx)
	})
	return p.startErr
}

func (p *process) start(ctx context.Context) error {
	log := getLogger()
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.cmd = exec.CommandContext(p.ctx, p.config.FFmpegPath, p.config.Args...) //nolint:gosec // path comes from validated configuration
	// Interrupt lets ffmpeg flush its output before exiting; WaitDelay
	// escalates to SIGKILL when it does not.
	p.cmd.Cancel = func() error { return p.cmd.Process.Signal(os.Interrupt) }
	p.cmd.WaitDelay = p.config.StopTimeout
	p.cmd.Stderr = p.stderr
	if p.config.Stdout != nil {
		p.cmd.Stdout = p.config.Stdout
	}

	if p.config.Stdin {
		stdin, err := p.cmd.StdinPipe()
		if err != nil {
			p.cancel()
			return errors.New(fmt.Errorf("failed to create stdin pipe: %w", err)).
				Component(componentCapture).
				Category(errors.CategorySystem).
				Context("operation", "start-ffmpeg").
				Context("process_id", p.id).
				Build()
		}
		p.stdin = stdin
	}

	if err := p.cmd.Start(); err != nil {
		p.cancel()
		close(p.done)
		return errors.New(fmt.Errorf("failed to start ffmpeg: %w", err)).
			Component(componentCapture).
			Category(errors.CategoryCommandExecution).
			Context("operation", "start-ffmpeg").
			Context("process_id", p.id).
			Context("ffmpeg_path", p.config.FFmpegPath).
			Build()
	}

	p.startTime = time.Now()
	p.running.Store(true)
	log.Debug("ffmpeg process started",
		logger.String("process_id", p.id),
		logger.Int("pid", p.cmd.Process.Pid),
		logger.String("args", strings.Join(p.config.Args, " ")))

	go p.wait()
	return nil
}

func (p *process) wait() {
	err := p.cmd.Wait()
	p.running.Store(false)
	if err != nil && p.ctx.Err() == nil {
		if tail := p.stderr.Last(); tail != "" {
			err = fmt.Errorf("%w: %s", err, tail)
		}
		p.waitErr = errors.New(err).
			Component(componentCapture).
			Category(errors.CategoryCommandExecution).
			Context("operation", "wait-ffmpeg").
			Context("process_id", p.id).
			Build()
	}
	getLogger().Debug("ffmpeg process exited",
		logger.String("process_id", p.id),
		logger.Duration("uptime", time.Since(p.startTime)),
		logger.Bool("stopped", p.ctx.Err() != nil))
	p.cancel()
	close(p.done)
}

// Write feeds data to ffmpeg's stdin.
func (p *process) Write(data []byte) (int, error) {
	if p.stdin == nil {
		return 0, fmt.Errorf("process %s has no stdin", p.id)
	}
	return p.stdin.Write(data)
}

// Stop ends the process and waits for it to exit. A process fed through stdin
// is stopped by closing stdin so the encoder can finalize its output file.
// Others are interrupted.
func (p *process) Stop() error {
	p.stopOnce.Do(func() {
		if p.cmd == nil || p.cmd.Process == nil {
			return
		}
		if p.stdin != nil {
			if err := p.stdin.Close(); err != nil {
				getLogger().Warn("failed to close stdin for ffmpeg process",
					logger.String("process_id", p.id),
					logger.Error(err))
			}
		} else {
			p.cancel()
		}

		select {
		case <-p.done:
		case <-time.After(p.config.StopTimeout):
			getLogger().Warn("ffmpeg process did not exit, killing it",
				logger.String("process_id", p.id))
			p.cancel()
			<-p.done
		}
	})
	return p.Err()
}

// Done is closed once the process has exited.
func (p *process) Done() <-chan struct{} { return p.done }

// Err returns the exit error of a process that failed on its own. A process
// ended by Stop reports nil.
func (p *process) Err() error {
	select {
	case <-p.done:
		return p.waitErr
	default:
		return nil
	}
}

// IsRunning reports whether the process has started and not yet exited.
func (p *process) IsRunning() bool { return p.running.Load() }

// stderrTail logs ffmpeg's stderr at debug level and keeps the last line for
// error messages.
type stderrTail struct {
	id      string
	mu      sync.Mutex
	partial []byte
	last    string
}

func (s *stderrTail) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(s.partial[:i]))
		s.partial = s.partial[i+1:]
		if line == "" {
			continue
		}
		s.last = line
		getLogger().Debug("ffmpeg stderr output",
			logger.String("process_id", s.id),
			logger.String("message", line))
	}
	return len(p), nil
}

// Last returns the most recent complete stderr line, or any unterminated
// remainder.
func (s *stderrTail) Last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rest := strings.TrimSpace(string(s.partial)); rest != "" {
		return rest
	}
	return s.last
}
