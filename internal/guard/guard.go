// Package guard detects and answers interactive prompts in shell command
// output so a launched command cannot hang forever waiting for input nobody
// will type.
package guard

import (
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrUnanswerable marks a detected prompt with no safe default response
	// (secrets, credentials). The command is failed deliberately instead of
	// left hanging.
	ErrUnanswerable = errors.New("interactive prompt has no default response")

	// ErrPromptRepeated marks a prompt that reappeared after its default
	// response was sent. One attempt per prompt instance; a repeat means the
	// answer was not accepted.
	ErrPromptRepeated = errors.New("interactive prompt repeated after response")
)

// PromptKind classifies the shape of a detected prompt.
type PromptKind int

const (
	PromptYesNo PromptKind = iota
	PromptChoice
	PromptText
)

func (k PromptKind) String() string {
	switch k {
	case PromptYesNo:
		return "yes_no"
	case PromptChoice:
		return "choice"
	}
	return "text"
}

// Prompt is a detected interactive question and the synthesized response.
// It lives only for the duration of the command that produced it.
type Prompt struct {
	Kind       PromptKind
	Question   string
	Options    []string // for PromptChoice
	Response   string
	Answerable bool
}

// interactiveSignatures lists command shapes that commonly prompt:
// install/init/config tools, privilege elevation, remote shells, and
// explicit read/select/choose verbs.
var interactiveSignatures = []*regexp.Regexp{
	regexp.MustCompile(`^(npm|yarn|pnpm|bun)\s+(install|init|create|add|audit)\b`),
	regexp.MustCompile(`^npx\s+create-`),
	regexp.MustCompile(`^(pip|pip3)\s+(install|uninstall)\b`),
	regexp.MustCompile(`^(apt|apt-get|dnf|yum|pacman|brew)\s+(install|remove|upgrade|update)\b`),
	regexp.MustCompile(`^(git|gh)\s+(init|config|auth)\b`),
	regexp.MustCompile(`\b(configure|setup|init)\b`),
	regexp.MustCompile(`^(sudo|su|doas)\b`),
	regexp.MustCompile(`^(ssh|telnet|ftp|sftp)\b`),
	regexp.MustCompile(`\b(read|select|choose)\b`),
}

// LikelyInteractive reports whether a command matches the fixed signature
// list of prompt-prone commands.
func LikelyInteractive(command string) bool {
	cmd := strings.TrimSpace(command)
	for _, re := range interactiveSignatures {
		if re.MatchString(cmd) {
			return true
		}
	}
	return false
}

var (
	yesNoRe = regexp.MustCompile(`[\(\[]\s*(Y/n|y/N|y/n|Y/N|yes/no)\s*[\)\]]`)

	// A parenthesized or bracketed comma- or slash-separated option list.
	choiceRe = regexp.MustCompile(`[\(\[]([^()\[\]]+[,/][^()\[\]]+)[\)\]]`)

	inputVerbs = []string{
		"enter", "input", "type", "provide", "specify", "name",
		"choose", "select", "pick",
	}

	secretWords = []string{"password", "passphrase", "secret", "token", "api key"}
)

// ScanForPrompt inspects accumulated command output line by line and returns
// the first detected prompt, or nil. Shapes are tried in priority order:
// yes/no, then option choice, then free-text request.
func ScanForPrompt(outputSoFar string) *Prompt {
	for _, line := range strings.Split(outputSoFar, "\n") {
		if p := ScanLine(line); p != nil {
			return p
		}
	}
	return nil
}

// ScanLine classifies a single output line.
func ScanLine(line string) *Prompt {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}

	if yesNoRe.MatchString(trimmed) {
		p := &Prompt{Kind: PromptYesNo, Question: trimmed, Response: "Y", Answerable: true}
		if isSecret(trimmed) {
			p.Answerable = false
			p.Response = ""
		}
		return p
	}

	if loc := choiceRe.FindStringSubmatchIndex(trimmed); loc != nil && isLineSuffix(trimmed, loc[1]) {
		options := splitOptions(trimmed[loc[2]:loc[3]])
		if len(options) >= 2 {
			p := &Prompt{
				Kind:       PromptChoice,
				Question:   trimmed,
				Options:    options,
				Response:   options[0],
				Answerable: true,
			}
			if isSecret(trimmed) {
				p.Answerable = false
				p.Response = ""
			}
			return p
		}
	}

	if strings.HasSuffix(trimmed, ":") && hasInputVerb(trimmed) {
		p := &Prompt{Kind: PromptText, Question: trimmed, Response: "", Answerable: true}
		if isSecret(trimmed) {
			p.Answerable = false
		}
		return p
	}

	return nil
}

// isLineSuffix reports whether only prompt punctuation follows position end.
// Option lists buried mid-line ("found 3 warnings (2 errors, 1 notice) --")
// are ordinary output, not prompts.
func isLineSuffix(line string, end int) bool {
	return strings.Trim(line[end:], " :?") == ""
}

func splitOptions(list string) []string {
	sep := ","
	if !strings.Contains(list, ",") {
		sep = "/"
	}
	var options []string
	for _, o := range strings.Split(list, sep) {
		o = strings.TrimSpace(o)
		if o != "" {
			options = append(options, o)
		}
	}
	return options
}

func hasInputVerb(line string) bool {
	lower := strings.ToLower(line)
	for _, v := range inputVerbs {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

func isSecret(line string) bool {
	lower := strings.ToLower(line)
	for _, w := range secretWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
