package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readLine prompts and reads one line. Input from a terminal is not echoed
// when secret is set.
func (g *globals) readLine(prompt string, secret bool) (string, error) {
	fmt.Fprint(g.out, prompt)
	if f, ok := g.in.(*os.File); ok && secret && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(g.out)
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	if g.reader == nil {
		g.reader = bufio.NewReader(g.in)
	}
	line, err := g.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
