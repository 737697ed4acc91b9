package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errNoAnswer = errors.New("no answer given")

// prompter asks the operator one line at a time.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// ask prints label and returns the trimmed answer. An empty answer is
// errNoAnswer.
func (p *prompter) ask(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errNoAnswer
	}
	return line, nil
}

// confirm asks a yes/no question; anything but y/yes/s/si is no.
func (p *prompter) confirm(label string) bool {
	answer, err := p.ask(label + " [y/N]")
	if err != nil {
		return false
	}
	switch strings.ToLower(answer) {
	case "y", "yes", "s", "si", "sí":
		return true
	}
	return false
}

// fill asks for *dst when it is empty.
func (p *prompter) fill(dst *string, label string) error {
	if strings.TrimSpace(*dst) != "" {
		return nil
	}
	v, err := p.ask(label)
	if err != nil {
		return fmt.Errorf("%s: %w", strings.ToLower(label), err)
	}
	*dst = v
	return nil
}
