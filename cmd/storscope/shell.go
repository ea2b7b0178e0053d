package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	prompt "github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"

	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/logging"
)

// fileCommands take the data file as their first argument. The shell
// supplies it.
var fileCommands = map[string]bool{
	"disk":   true,
	"mem":    true,
	"index":  true,
	"export": true,
}

func (a *app) shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <file>",
		Short: "Run commands against one data file interactively",
		Long: `shell opens a prompt bound to one data file. Commands are typed without
the file argument, e.g. "disk test.docs --chunks 8". Namespaces complete
with tab. Type "exit" or press Ctrl-D to leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			f, err := datafile.Open(path)
			if err != nil {
				return err
			}
			sh := &shell{app: a, path: path, lineContext: interruptContext}
			for _, ns := range f.Namespaces() {
				sh.namespaces = append(sh.namespaces, prompt.Suggest{Text: ns.Name, Description: ns.Kind.String()})
			}
			f.Close()
			sort.Slice(sh.namespaces, func(i, j int) bool { return sh.namespaces[i].Text < sh.namespaces[j].Text })

			p := prompt.New(
				sh.execute,
				sh.complete,
				prompt.OptionTitle("storscope"),
				prompt.OptionPrefix("storscope> "),
				prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
					in = strings.TrimSpace(in)
					return breakline && (in == "exit" || in == "quit")
				}),
			)
			p.Run()
			return nil
		},
	}
}

// shell runs one command line at a time against a data file.
type shell struct {
	app        *app
	path       string
	namespaces []prompt.Suggest

	// lineContext scopes one command line.
	lineContext func() (context.Context, context.CancelFunc)
}

// interruptContext is cancelled by Ctrl-C, which stops the running
// analysis and returns to the prompt.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func (s *shell) execute(line string) {
	args := strings.Fields(line)
	if len(args) == 0 || args[0] == "exit" || args[0] == "quit" {
		return
	}
	if fileCommands[args[0]] {
		args = append([]string{args[0], s.path}, args[1:]...)
	}

	// A fresh command tree per line keeps flag values from leaking into
	// the next command.
	root := &cobra.Command{Use: "", SilenceUsage: true, SilenceErrors: true}
	root.SetOut(s.app.stdout)
	root.SetErr(s.app.stderr)
	root.AddCommand(s.app.commands()...)
	root.SetArgs(args)

	ctx, stop := s.lineContext()
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		code := errors.ErrorToCode(err)
		fmt.Fprintf(s.app.stderr, "%s: %v\n", errors.CodeName(code), err)
		logging.Debug("shell command failed", "line", line, "code", code)
	}
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	words := strings.Fields(d.TextBeforeCursor())
	word := d.GetWordBeforeCursor()

	if len(words) == 0 || (len(words) == 1 && word != "") {
		return prompt.FilterHasPrefix(s.commandSuggestions(), word, true)
	}
	if fileCommands[words[0]] && strings.HasPrefix(word, "-") {
		return nil
	}
	if fileCommands[words[0]] {
		return prompt.FilterHasPrefix(s.namespaces, word, true)
	}
	return nil
}

func (s *shell) commandSuggestions() []prompt.Suggest {
	var out []prompt.Suggest
	for _, c := range s.app.commands() {
		out = append(out, prompt.Suggest{Text: c.Name(), Description: c.Short})
	}
	return append(out, prompt.Suggest{Text: "exit", Description: "Leave the shell"})
}
