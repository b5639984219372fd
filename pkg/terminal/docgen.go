package terminal

import (
	"fmt"
	"io"
	"strings"
)

// WriteMarkdown writes the documentation of the terminal commands.
func (c *Commands) WriteMarkdown(w io.Writer) {
	fmt.Fprint(w, "# Configuration\n\n")
	fmt.Fprint(w, "If `$XDG_CONFIG_HOME` is set, then the configuration file is located in `$XDG_CONFIG_HOME/hmdd`. ")
	fmt.Fprint(w, "Otherwise, it is located in `$HOME/.config/hmdd`.\n\n")
	fmt.Fprint(w, "The configuration file `config.yml` is never written by hmdd. ")
	fmt.Fprint(w, "Command history only lasts for the session.\n\n")

	fmt.Fprint(w, "# Commands\n")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(w, "\n## %s\n\n", cgd.description)

		fmt.Fprint(w, "Command | Description\n")
		fmt.Fprint(w, "--------|------------\n")
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			fmt.Fprintf(w, "[%s](#%s) | %s\n", cmd.aliases[0], cmd.aliases[0], h)
		}
		fmt.Fprint(w, "\n")
	}

	for _, cmd := range c.cmds {
		fmt.Fprintf(w, "## %s\n%s\n\n", cmd.aliases[0], cmd.helpMsg)
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "Aliases: %s\n", strings.Join(cmd.aliases[1:], " "))
		}
		fmt.Fprint(w, "\n")
	}
}
