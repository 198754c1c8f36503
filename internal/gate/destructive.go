package gate

import (
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/triage-ai/agentgate/internal/agents"
)

// hazard is one reason a shell command needs more scrutiny than its rule gave it.
type hazard struct {
	Action agents.Action
	Detail string
}

// Patterns checked against the whole command line, before splitting.
var commandPatterns = []struct {
	re     *regexp.Regexp
	action agents.Action
	detail string
}{
	{regexp.MustCompile(`\b(curl|wget)\b[^|;&]*\|\s*(sudo\s+)?(ba|z|da|k)?sh\b`), agents.ActionAsk, "remote script piped to a shell"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), agents.ActionDeny, "fork bomb"},
	{regexp.MustCompile(`\$\(|` + "`"), agents.ActionAsk, "command substitution"},
}

// Patterns checked against each simple command.
var segmentPatterns = []struct {
	re     *regexp.Regexp
	action agents.Action
	detail string
}{
	{regexp.MustCompile(`(?i)\bdrop\s+(database|schema)\b`), agents.ActionAsk, "DROP DATABASE"},
	{regexp.MustCompile(`(?i)\bdrop\s+table\b`), agents.ActionAsk, "DROP TABLE"},
	{regexp.MustCompile(`(?i)\btruncate\s+table\b`), agents.ActionAsk, "TRUNCATE TABLE"},
	{regexp.MustCompile(`>>?\s*/etc/`), agents.ActionAsk, "write under /etc"},
	{regexp.MustCompile(`>\s*/dev/(sd|nvme|hd|disk)`), agents.ActionDeny, "write to a block device"},
}

// catastrophicTargets are rm targets that wipe a home, root or whole tree.
var catastrophicTargets = map[string]bool{
	"/": true, "/*": true, "~": true, "~/": true, "~/*": true,
	"*": true, ".": true, "..": true, "$HOME": true, "${HOME}": true,
}

var substitutions = regexp.MustCompile(`\$\(([^()]*)\)|` + "`([^`]*)`")

// inspectCommand returns every hazard found in a shell command line,
// including the bodies of command substitutions.
func inspectCommand(command string) []hazard {
	var found []hazard
	for _, m := range substitutions.FindAllStringSubmatch(command, -1) {
		found = append(found, inspectCommand(m[1]+m[2])...)
	}
	for _, p := range commandPatterns {
		if p.re.MatchString(command) {
			found = append(found, hazard{Action: p.action, Detail: p.detail})
		}
	}
	for _, seg := range splitCommand(command) {
		found = append(found, inspectSegment(seg)...)
	}
	return found
}

func inspectSegment(seg string) []hazard {
	var found []hazard
	for _, p := range segmentPatterns {
		if p.re.MatchString(seg) {
			found = append(found, hazard{Action: p.action, Detail: p.detail})
		}
	}
	return append(found, inspectArgv(shellFields(seg))...)
}

// shells run the command string given to -c.
var shells = map[string]bool{"sh": true, "bash": true, "zsh": true, "dash": true, "ksh": true}

// wrappers run the rest of their arguments as a command. Each lists the
// options that take a separate value.
var wrappers = map[string][]string{
	"sudo":    {"-u", "-g", "-C", "-h", "-p", "-r", "-t", "-D", "-U"},
	"doas":    {"-u", "-C"},
	"env":     {"-u", "-C", "--unset", "--chdir"},
	"nohup":   nil,
	"time":    {"-f", "-o"},
	"xargs":   {"-I", "-n", "-P", "-d", "-L", "-s", "-E", "-a"},
	"exec":    {"-a"},
	"command": nil,
	"nice":    {"-n", "--adjustment"},
	"ionice":  {"-c", "-n", "-p", "-P", "-u"},
	"stdbuf":  {"-i", "-o", "-e"},
	"timeout": {"-s", "-k", "--signal", "--kill-after"},
}

func inspectArgv(argv []string) []hazard {
	if len(argv) == 0 {
		return nil
	}
	head := path.Base(argv[0])
	args := argv[1:]

	if valued, ok := wrappers[head]; ok {
		var found []hazard
		if head == "sudo" || head == "doas" {
			found = append(found, hazard{Action: agents.ActionAsk, Detail: "privilege escalation via " + head})
		}
		args = skipOptions(args, valued)
		switch head {
		case "env":
			for len(args) > 0 && envAssign.MatchString(args[0]) {
				args = args[1:]
			}
		case "timeout":
			if len(args) > 0 {
				args = args[1:]
			}
		}
		return append(found, inspectArgv(args)...)
	}
	if shells[head] {
		return inspectShell(args)
	}

	switch {
	case head == "su":
		return []hazard{{Action: agents.ActionAsk, Detail: "privilege escalation via su"}}
	case head == "eval":
		return inspectCommand(strings.Join(args, " "))
	case head == "rm":
		return inspectRm(args)
	case head == "find":
		return inspectFind(args)
	case head == "mkfs" || strings.HasPrefix(head, "mkfs."):
		return []hazard{{Action: agents.ActionDeny, Detail: "filesystem creation"}}
	case head == "dd":
		for _, a := range args {
			if strings.HasPrefix(a, "of=/dev/") && a != "of=/dev/null" {
				return []hazard{{Action: agents.ActionDeny, Detail: "dd to a device"}}
			}
		}
	case head == "chmod":
		for _, a := range args {
			if a == "777" || a == "0777" || a == "a+rwx" {
				return []hazard{{Action: agents.ActionAsk, Detail: "world-writable permissions"}}
			}
		}
	case head == "shutdown" || head == "reboot" || head == "halt" || head == "poweroff":
		return []hazard{{Action: agents.ActionAsk, Detail: "host power control"}}
	case head == "git":
		return inspectGit(args)
	}
	return nil
}

// skipOptions drops leading option arguments along with the values of the
// options listed in valued. A "--" ends the options and is dropped too.
func skipOptions(args, valued []string) []string {
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		opt := args[0]
		args = args[1:]
		if opt == "--" {
			break
		}
		if slices.Contains(valued, opt) && len(args) > 0 {
			args = args[1:]
		}
	}
	return args
}

// inspectShell looks inside sh -c 'command line'. Scripts run from a file
// are not inspected.
func inspectShell(args []string) []hazard {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-o" || a == "+o" || a == "-O" || a == "+O":
			i++
		case a == "--" || !strings.HasPrefix(a, "-"):
			return nil
		case !strings.HasPrefix(a, "--") && strings.Contains(a, "c"):
			if i+1 < len(args) {
				return inspectCommand(args[i+1])
			}
			return nil
		}
	}
	return nil
}

func catastrophic(target string) bool {
	return catastrophicTargets[target] || catastrophicTargets[strings.TrimRight(target, "/")]
}

// systemRoot reports whether a find root covers the filesystem or a home
// directory. The working directory alone is not enough, since find usually
// filters what it deletes.
func systemRoot(root string) bool {
	switch strings.TrimRight(root, "/") {
	case "", "~", "$HOME", "${HOME}":
		return true
	}
	return false
}

func inspectRm(args []string) []hazard {
	var recursive, force bool
	var targets []string
	endOfFlags := false
	for _, a := range args {
		switch {
		case endOfFlags || !strings.HasPrefix(a, "-") || a == "-":
			targets = append(targets, a)
		case a == "--":
			endOfFlags = true
		case a == "--recursive":
			recursive = true
		case a == "--force":
			force = true
		case !strings.HasPrefix(a, "--"):
			recursive = recursive || strings.ContainsAny(a, "rR")
			force = force || strings.Contains(a, "f")
		}
	}
	if !recursive {
		return nil
	}
	for _, t := range targets {
		if catastrophic(t) {
			return []hazard{{Action: agents.ActionDeny, Detail: "recursive delete of " + t}}
		}
	}
	if force {
		return []hazard{{Action: agents.ActionAsk, Detail: "rm -rf"}}
	}
	return nil
}

// inspectFind flags -delete and commands run through -exec and friends.
func inspectFind(args []string) []hazard {
	var (
		found []hazard
		roots []string
	)
	inRoots := true
	for i := 0; i < len(args); i++ {
		a := args[i]
		if inRoots && (strings.HasPrefix(a, "-") || a == "(" || a == "!") {
			inRoots = false
		}
		switch {
		case inRoots:
			roots = append(roots, a)
		case a == "-delete":
			action := agents.ActionAsk
			if slices.ContainsFunc(roots, systemRoot) {
				action = agents.ActionDeny
			}
			found = append(found, hazard{Action: action, Detail: "find -delete"})
		case a == "-exec" || a == "-execdir" || a == "-ok" || a == "-okdir":
			j := i + 1
			for j < len(args) && args[j] != ";" && args[j] != "+" {
				j++
			}
			sub := args[i+1 : j]
			if len(sub) > 0 && path.Base(sub[0]) == "rm" {
				action := agents.ActionAsk
				if slices.ContainsFunc(roots, systemRoot) {
					action = agents.ActionDeny
				}
				found = append(found, hazard{Action: action, Detail: "find " + a + " rm"})
			}
			found = append(found, inspectArgv(sub)...)
			i = j
		}
	}
	return found
}

func inspectGit(args []string) []hazard {
	// Skip global options such as -C dir or -c key=value.
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		if (args[0] == "-C" || args[0] == "-c") && len(args) > 1 {
			args = args[1:]
		}
		args = args[1:]
	}
	if len(args) == 0 {
		return nil
	}
	sub, rest := args[0], args[1:]

	switch sub {
	case "push":
		for _, a := range rest {
			if a == "--force" || a == "-f" || strings.HasPrefix(a, "--force-with-lease") ||
				(strings.HasPrefix(a, "+") && len(a) > 1) ||
				(strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.Contains(a, "f")) {
				return []hazard{{Action: agents.ActionAsk, Detail: "git push --force"}}
			}
			if a == "--delete" || a == "-d" {
				return []hazard{{Action: agents.ActionAsk, Detail: "git push --delete"}}
			}
		}
	case "reset":
		for _, a := range rest {
			if a == "--hard" {
				return []hazard{{Action: agents.ActionAsk, Detail: "git reset --hard"}}
			}
		}
	case "clean":
		for _, a := range rest {
			if a == "--force" || (strings.HasPrefix(a, "-") && !strings.HasPrefix(a, "--") && strings.Contains(a, "f")) {
				return []hazard{{Action: agents.ActionAsk, Detail: "git clean -f"}}
			}
		}
	case "branch":
		for _, a := range rest {
			if a == "-D" {
				return []hazard{{Action: agents.ActionAsk, Detail: "git branch -D"}}
			}
		}
	}
	return nil
}
