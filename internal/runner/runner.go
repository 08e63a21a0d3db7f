// ABOUTME: Subprocess runner with line-streamed output and optional interactive stdin.
// ABOUTME: Used for vendor dump tools, container installs, and other shell-outs.

package runner

import (
	"bufio"
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"regexp"
	"sync"
)

// Option configures one Run call.
type Option func(*options)

type options struct {
	promptPattern *regexp.Regexp
	promptInput   func(line string) string
	env           []string
	dir           string
}

// WithPrompt installs an input producer. When a stdout line matches the
// pattern, the producer's result is written to stdin followed by a newline
// and flushed.
func WithPrompt(pattern *regexp.Regexp, produce func(line string) string) Option {
	return func(o *options) {
		o.promptPattern = pattern
		o.promptInput = produce
	}
}

// WithProxyEnv augments the child environment with proxy variables when
// the host has a proxy configured.
func WithProxyEnv(proxy string) Option {
	return func(o *options) {
		if proxy == "" {
			return
		}
		o.env = append(o.env,
			"HTTP_PROXY="+proxy,
			"HTTPS_PROXY="+proxy,
			"http_proxy="+proxy,
			"https_proxy="+proxy,
		)
	}
}

// WithDir sets the working directory of the child process.
func WithDir(dir string) Option {
	return func(o *options) { o.dir = dir }
}

// Run executes a shell command, streaming stdout and stderr line by line
// into an accumulator and the log. It waits for the process to exit and
// returns the accumulated lines. A non-zero exit is returned as the error
// alongside the output gathered so far.
func Run(ctx context.Context, cmdline string, opts ...Option) ([]string, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Dir = o.dir
	cmd.Env = append(os.Environ(), o.env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}

	var stdin io.WriteCloser
	if o.promptPattern != nil {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var lines []string
	appendLine := func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
		log.Printf("runner: %s", line)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			appendLine(line)
			if o.promptPattern != nil && o.promptPattern.MatchString(line) {
				input := o.promptInput(line)
				if _, err := io.WriteString(stdin, input+"\n"); err != nil {
					log.Printf("runner: stdin write failed: %v", err)
				}
			}
		}
	}()

	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			appendLine(scanner.Text())
		}
	}()

	wg.Wait()
	if stdin != nil {
		stdin.Close()
	}

	err = cmd.Wait()
	return lines, err
}
