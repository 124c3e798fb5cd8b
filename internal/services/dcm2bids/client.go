package dcm2bids

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"time"

	"cvt2bids/internal/logging"
	"cvt2bids/internal/services"
)

// tailLines is the number of trailing output lines quoted in failures.
const tailLines = 5

// Request describes one dcm2bids invocation.
type Request struct {
	Directory  string
	Label      string
	ConfigPath string
	OutputDir  string
	Session    string
}

// Converter defines the behaviour required by the dispatcher.
type Converter interface {
	Convert(ctx context.Context, req Request) error
}

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onOutput func(string)) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithLogger sets the logger that receives converter output at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithForceDcm2niix toggles the --forceDcm2niix flag.
func WithForceDcm2niix(force bool) Option {
	return func(c *Client) {
		c.forceDcm2niix = force
	}
}

// WithExtraArgs appends additional arguments to every invocation.
func WithExtraArgs(args []string) Option {
	return func(c *Client) {
		c.extraArgs = slices.Clone(args)
	}
}

// Client wraps dcm2bids CLI interactions.
type Client struct {
	binary        string
	timeout       time.Duration
	forceDcm2niix bool
	extraArgs     []string
	exec          Executor
	logger        *slog.Logger
}

// New constructs a dcm2bids client. A zero timeout disables the per-job limit.
func New(binary string, timeoutSeconds int, opts ...Option) (*Client, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("dcm2bids binary required")
	}
	client := &Client{
		binary:        binary,
		timeout:       time.Duration(timeoutSeconds) * time.Second,
		forceDcm2niix: true,
		exec:          commandExecutor{},
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(client)
	}
	client.logger = logging.NewComponentLogger(client.logger, "dcm2bids")
	return client, nil
}

// Binary returns the configured executable.
func (c *Client) Binary() string {
	return c.binary
}

// Args returns the argument vector for req.
func (c *Client) Args(req Request) []string {
	args := []string{
		"-d", req.Directory,
		"-p", req.Label,
		"-c", req.ConfigPath,
		"-o", req.OutputDir,
	}
	if c.forceDcm2niix {
		args = append(args, "--forceDcm2niix")
	}
	args = append(args, "-s", req.Session)
	return append(args, c.extraArgs...)
}

// CommandLine renders req as a shell-like string for logs and dry runs.
func (c *Client) CommandLine(req Request) string {
	return strings.Join(append([]string{c.binary}, c.Args(req)...), " ")
}

func validate(req Request) error {
	var missing []string
	if strings.TrimSpace(req.Directory) == "" {
		missing = append(missing, "directory")
	}
	if strings.TrimSpace(req.Label) == "" {
		missing = append(missing, "participant label")
	}
	if strings.TrimSpace(req.ConfigPath) == "" {
		missing = append(missing, "config path")
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		missing = append(missing, "output directory")
	}
	if strings.TrimSpace(req.Session) == "" {
		missing = append(missing, "session")
	}
	if len(missing) > 0 {
		return services.Wrap(services.ErrValidation, "dcm2bids", "validate request",
			"missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Convert runs dcm2bids for req and waits for it to exit.
func (c *Client) Convert(ctx context.Context, req Request) error {
	if err := validate(req); err != nil {
		return err
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	logger := c.logger.With(
		logging.String(logging.FieldDirectory, req.Directory),
		logging.String("label", req.Label),
		logging.String("session", req.Session),
	)
	logger.Info("running dcm2bids", logging.String("command", c.CommandLine(req)))

	tail := newTail(tailLines)
	started := time.Now()
	err := c.exec.Run(runCtx, c.binary, c.Args(req), func(line string) {
		tail.add(line)
		logger.Debug(line)
	})
	elapsed := time.Since(started)
	if err == nil {
		logger.Info("dcm2bids finished", logging.Duration("duration", elapsed))
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("dcm2bids %s: %w", req.Directory, ctxErr)
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "dcm2bids", "convert",
			fmt.Sprintf("%s exceeded %s", req.Directory, c.timeout), err)
	}
	message := req.Directory
	if last := tail.String(); last != "" {
		message += " (" + last + ")"
	}
	return services.Wrap(services.ErrExternalTool, "dcm2bids", "convert", message, err)
}

// Version returns the first line dcm2bids prints for --version.
func (c *Client) Version(ctx context.Context) (string, error) {
	var first string
	err := c.exec.Run(ctx, c.binary, []string{"--version"}, func(line string) {
		if first == "" {
			first = strings.TrimSpace(line)
		}
	})
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "dcm2bids", "version", c.binary, err)
	}
	return first, nil
}

type outputTail struct {
	mu    sync.Mutex
	max   int
	lines []string
}

func newTail(max int) *outputTail {
	return &outputTail{max: max}
}

func (t *outputTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}
}

func (t *outputTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, " | ")
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onOutput func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var wg sync.WaitGroup
	var scanErr error
	var once sync.Once
	var forwardMu sync.Mutex

	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if onOutput == nil {
				continue
			}
			forwardMu.Lock()
			onOutput(scanner.Text())
			forwardMu.Unlock()
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() {
				scanErr = err
			})
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)

	wg.Wait()
	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
