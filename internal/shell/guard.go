package shell

import (
	"regexp"
	"strings"
)

// CodeRequiresBackground is the failure code for commands that look like
// they never exit when run without a timeout or background flag.
const CodeRequiresBackground = "bash_requires_background_or_timeout"

// longRunningPatterns match commands that hold a port, watch files, or
// otherwise run until killed. The guard is a heuristic: it only needs to
// catch the common footguns, not every possible server.
var longRunningPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`(^|[;&|]\s*)tail\s+(-\w*\s+)*-[a-zA-Z]*f`), "tail -f follows the file forever"},
	{regexp.MustCompile(`(^|[;&|]\s*)watch\s`), "watch repeats until interrupted"},
	{regexp.MustCompile(`(^|[;&|]\s*)(npm|pnpm|yarn|bun)\s+(run\s+)?(dev|start|serve|watch)\b`), "dev server runs until interrupted"},
	{regexp.MustCompile(`(^|[;&|]\s*)(vite|next\s+dev|nuxt\s+dev|webpack\s+serve|nodemon)\b`), "dev server runs until interrupted"},
	{regexp.MustCompile(`(^|[;&|]\s*)(flask\s+run|rails\s+s(erver)?\b|uvicorn\b|gunicorn\b|php\s+-S\b)`), "web server listens until interrupted"},
	{regexp.MustCompile(`python3?\s+-m\s+http\.server`), "http.server listens until interrupted"},
	{regexp.MustCompile(`(^|[;&|]\s*)(nc|ncat|netcat)\s+(-\w*\s+)*-[a-zA-Z]*l`), "listening socket blocks forever"},
	{regexp.MustCompile(`(^|[;&|]\s*)kubectl\s+port-forward\b`), "port-forward runs until interrupted"},
	{regexp.MustCompile(`while\s+(true|:)\s*;`), "unbounded loop"},
	{regexp.MustCompile(`sleep\s+(infinity|inf)\b`), "sleep infinity never returns"},
	{regexp.MustCompile(`(^|[;&|]\s*)cargo\s+watch\b`), "cargo watch runs until interrupted"},
}

var (
	composeUpRe = regexp.MustCompile(`(^|[;&|]\s*)docker(\s+compose|-compose)\s+.*\bup\b`)
	detachRe    = regexp.MustCompile(`\s(-d|--detach)\b`)
	pingRe      = regexp.MustCompile(`(^|[;&|]\s*)ping\s`)
	pingCountRe = regexp.MustCompile(`\s-c\s*\d`)
)

// LongRunningReason reports why a command looks long-running, or "" when
// it looks bounded. Callers reject such commands unless the caller asked
// for background execution or set an explicit timeout.
func LongRunningReason(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ""
	}
	// A trailing & already detaches at the shell level; still force the
	// caller through the background path so the process is tracked.
	if strings.HasSuffix(trimmed, "&") {
		return "trailing & detaches an untracked process"
	}
	for _, p := range longRunningPatterns {
		if p.re.MatchString(trimmed) {
			return p.reason
		}
	}
	if composeUpRe.MatchString(trimmed) && !detachRe.MatchString(trimmed) {
		return "compose up without -d attaches forever"
	}
	if pingRe.MatchString(trimmed) && !pingCountRe.MatchString(trimmed) {
		return "ping without -c runs forever"
	}
	return ""
}
