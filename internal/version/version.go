package version

import (
	"fmt"
	"log"
	"strings"

	"github.com/glmproxy/glmproxy/theme"
)

var (
	Name        = "glmproxy"
	ShortName   = "glmp"
	Description = "Credential-pooling reverse proxy for Anthropic-compatible chat APIs"
	Version     = "v0.0.1"
	Commit      = "none"
	Date        = "nowish"
	User        = "local"
)

const (
	GithubHomeText  = "github.com/glmproxy/glmproxy"
	GithubHomeUri   = "https://github.com/glmproxy/glmproxy"
	GithubLatestUri = "https://github.com/glmproxy/glmproxy/releases/latest"
)

func PrintVersionInfo(extendedInfo bool, vlog *log.Logger) {
	githubUri := theme.Hyperlink(GithubHomeUri, GithubHomeText)
	latestUri := theme.Hyperlink(GithubLatestUri, Version)

	var b strings.Builder

	b.WriteString(theme.ColourSplash(`
╔──────────────────────────────────────────────────╗
│                                                  │
│   ██████╗ ██╗     ███╗   ███╗██████╗             │
│  ██╔════╝ ██║     ████╗ ████║██╔══██╗            │
│  ██║  ███╗██║     ██╔████╔██║██████╔╝            │
│  ██║   ██║██║     ██║╚██╔╝██║██╔═══╝             │
│  ╚██████╔╝███████╗██║ ╚═╝ ██║██║                 │
│   ╚═════╝ ╚══════╝╚═╝     ╚═╝╚═╝ proxy           │` + "\n"))

	b.WriteString(theme.ColourSplash("│  "))
	b.WriteString(theme.StyleUrl(githubUri))
	b.WriteString("  ")
	b.WriteString(theme.ColourVersion(latestUri))
	b.WriteString(theme.ColourSplash("  │\n"))
	b.WriteString(theme.ColourSplash("╚──────────────────────────────────────────────────╝"))

	if extendedInfo {
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf(" Commit: %s\n", Commit))
		b.WriteString(fmt.Sprintf("  Built: %s\n", Date))
		b.WriteString(fmt.Sprintf("  Using: %s\n", User))
	}

	vlog.Println(b.String())
}
