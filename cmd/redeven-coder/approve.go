package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/floegence/redeven-coder/internal/workflow"
)

// promptApprover asks on the controlling terminal. Without a terminal every
// request is rejected unless autoApprove is set.
type promptApprover struct {
	in          *os.File
	out         io.Writer
	autoApprove bool
	render      *renderer

	once  sync.Once
	lines chan string
}

func newPromptApprover(in *os.File, out io.Writer, autoApprove bool, r *renderer) *promptApprover {
	return &promptApprover{in: in, out: out, autoApprove: autoApprove, render: r}
}

func (p *promptApprover) Approve(ctx context.Context, req workflow.ApprovalRequest) (bool, error) {
	if p.autoApprove {
		return true, nil
	}
	if !isTerminalFile(p.in) {
		fmt.Fprintln(p.out, warnStyle.Render("Rejected "+req.ToolName+": no terminal to ask on (use --yes to approve)."))
		return false, nil
	}

	p.render.mu.Lock()
	fmt.Fprintln(p.out)
	fmt.Fprintln(p.out, p.render.Approval(req.ToolName, req.Summary))
	p.render.mu.Unlock()

	for {
		fmt.Fprint(p.out, "Allow? [y/N] ")
		line, err := p.readLine(ctx)
		if err != nil {
			fmt.Fprintln(p.out)
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "", "n", "no":
			return false, nil
		}
	}
}

// readLine waits for the next input line or for ctx. The reader goroutine
// outlives a canceled wait and serves the next call.
func (p *promptApprover) readLine(ctx context.Context) (string, error) {
	p.once.Do(func() {
		p.lines = make(chan string)
		go func() {
			defer close(p.lines)
			sc := bufio.NewScanner(p.in)
			for sc.Scan() {
				p.lines <- sc.Text()
			}
		}()
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}
