package dependency

import (
	"strings"
	"time"
)

// Script is an ordered list of shell steps run as one "&&"-joined bash
// invocation, so the first failing step short-circuits the rest.
//
// Steps added with Cmd keep their arguments as discrete tokens until String
// quotes them; only Raw splices text verbatim and must be given trusted,
// already-validated snippets.
type Script struct {
	steps []step
}

type step struct {
	raw  string
	argv []string
}

// NewScript returns an empty script.
func NewScript() *Script {
	return &Script{}
}

// Cmd appends a command whose name and arguments are each quoted as one token.
func (s *Script) Cmd(name string, args ...string) *Script {
	argv := make([]string, 0, len(args)+1)
	argv = append(argv, name)
	argv = append(argv, args...)
	s.steps = append(s.steps, step{argv: argv})
	return s
}

// Raw appends a snippet verbatim (e.g. an export using ${VAR:+...} expansion).
func (s *Script) Raw(snippet string) *Script {
	s.steps = append(s.steps, step{raw: snippet})
	return s
}

// Len returns the number of steps.
func (s *Script) Len() int {
	return len(s.steps)
}

// Steps renders each step separately, in order.
func (s *Script) Steps() []string {
	out := make([]string, len(s.steps))
	for i, st := range s.steps {
		out[i] = st.render()
	}
	return out
}

// String renders the full script.
func (s *Script) String() string {
	return strings.Join(s.Steps(), " && ")
}

// Request wraps the script in a "<shell> -c <script>" command request.
func (s *Script) Request(shell, workingDir string, timeout time.Duration) CommandRequest {
	if shell == "" {
		shell = "bash"
	}
	return CommandRequest{
		Command:    shell,
		Args:       []string{"-c", s.String()},
		WorkingDir: workingDir,
		Timeout:    timeout,
	}
}

func (st step) render() string {
	if st.argv == nil {
		return st.raw
	}
	quoted := make([]string, len(st.argv))
	for i, a := range st.argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

// Quote renders token as a single POSIX shell word. Tokens made only of
// characters with no special meaning are returned unchanged.
func Quote(token string) string {
	if token == "" {
		return "''"
	}
	if isShellSafe(token) {
		return token
	}
	return "'" + strings.ReplaceAll(token, "'", `'"'"'`) + "'"
}

func isShellSafe(token string) bool {
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("_-./=:,+@%", r):
		default:
			return false
		}
	}
	return true
}
