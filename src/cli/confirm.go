package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// confirm prompts for a yes/no answer on in, defaulting to no.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	if out != nil {
		fmt.Fprintf(out, "%s [y/N]: ", strings.TrimSpace(question))
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	ans := strings.TrimSpace(strings.ToLower(line))
	return ans == "y" || ans == "yes", nil
}
