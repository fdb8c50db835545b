package cmds

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/piehook/piectl/cmd/piectl/cmds/helphelpers"
	"github.com/piehook/piectl/pkg/config"
	"github.com/piehook/piectl/pkg/driver"
	"github.com/piehook/piectl/pkg/hook"
	"github.com/piehook/piectl/pkg/logflags"
	"github.com/piehook/piectl/pkg/terminal"
	"github.com/piehook/piectl/pkg/version"
)

// ErrActionsFailed is returned by the root command when at least one
// action reported an error. The error lines have already been printed.
var ErrActionsFailed = errors.New("one or more actions failed")

const piectlCommandLongDesc = `piectl configures the piehook kernel module, which overrides the address
space layout randomization of new processes.

Each hook flag is applied immediately, in the order it appears on the command
line, and recorded in the session. --export writes the hooks recorded so far
as a configuration document, --import replays a document.

Values are decimal, 0x prefixed hexadecimal or 0b prefixed binary.

Examples:

` + "  `piectl -t 0x555555555000 -p 0x2000 -e layout.json`" + `
` + "  `piectl -i layout.json`"

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	return newCommand(newSession(config.LoadConfig()), docCall)
}

func newCommand(s *session, docCall bool) *cobra.Command {
	rootCommand := &cobra.Command{
		Use:   "piectl",
		Short: "piectl pins the text, stack and heap placement of new processes.",
		Long:  piectlCommandLongDesc,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(s.actions) == 0 && !s.save {
				return cmd.Help()
			}
			return s.run(cmd)
		},
	}
	rootCommand.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w\n\n%s", err, cmd.UsageString())
	})

	rootCommand.PersistentFlags().BoolVarP(&s.logFlag, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&s.logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output: driver, codec, cli.`)
	rootCommand.PersistentFlags().StringVarP(&s.logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringVar(&s.device, "device", "", fmt.Sprintf("Control device of the piehook module (default %s).", driver.DefaultDevice))
	rootCommand.PersistentFlags().DurationVar(&s.timeout, "timeout", 0, "Maximum time allowed for each exchange with the driver, 0 waits forever.")
	rootCommand.PersistentFlags().StringVar(&s.color, "color", "", "Colored output: auto, always or never.")

	flags := rootCommand.Flags()
	flags.VarP(&actionFlag{s: s, op: opApply, kind: hook.Text}, "text", "t", "Enable text base PIE hook (TEXT_SEG_BASE means 0x555555554000 + OFFSET).")
	flags.VarP(&actionFlag{s: s, op: opApply, kind: hook.StackBase}, "stack", "s", "Enable stack base hook (STACK_BASE means the top of user stack area).")
	flags.VarP(&actionFlag{s: s, op: opApply, kind: hook.Heap}, "heap", "p", "Enable heap base hook (HEAP_OFFSET means OFFSET from the end of text area).")
	flags.VarP(&actionFlag{s: s, op: opApply, kind: hook.StackOffset}, "stackmagic", "g", "Enable stack offset hook (the offset needs to be fine-tuned manually).")
	flags.VarP(&actionFlag{s: s, op: opExport}, "export", "e", "Write the hooks applied so far to a configuration document.")
	flags.VarP(&actionFlag{s: s, op: opImport}, "import", "i", "Apply the hooks stored in a configuration document.")
	flags.BoolVar(&s.dryRun, "dry-run", false, "Only check values against the address layout limits, do not contact the driver.")
	flags.BoolVar(&s.save, "save", false, "After all other actions, export the session to the default-export document of the config file.")

	// 'version' subcommand.
	var verbose bool
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "piectl\n%s\n", version.PiectlVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if !docCall {
			helphelpers.Prepare(cmd)
		}
		defaultHelp(cmd, args)
	})

	return rootCommand
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context) int {
	err := New(false).ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrActionsFailed):
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}

func (s *session) setup(cmd *cobra.Command) error {
	if err := logflags.Setup(s.logFlag, s.logOutput, s.logDest); err != nil {
		return err
	}
	s.log = logflags.CLILogger()

	device := s.conf.Device
	if cmd.Flags().Changed("device") || device == "" {
		device = s.device
	}
	timeout, err := s.conf.TimeoutDuration()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("timeout") {
		timeout = s.timeout
	}
	if timeout < 0 {
		return fmt.Errorf("invalid timeout %v", timeout)
	}
	s.client = &hook.Client{Device: device, Timeout: timeout, Open: s.open}

	color := s.conf.Color
	if cmd.Flags().Changed("color") {
		color = s.color
	}
	switch color {
	case "", config.ColorAuto, config.ColorAlways, config.ColorNever:
	default:
		return fmt.Errorf("invalid color mode %q", color)
	}
	if f, ok := cmd.ErrOrStderr().(*os.File); ok {
		s.report = terminal.NewReporter(f, color)
	} else {
		s.report = terminal.NewPlainReporter(cmd.ErrOrStderr())
	}

	s.log.Debugf("device=%q timeout=%v dry-run=%v actions=%d", s.client.Device, timeout, s.dryRun, len(s.actions))
	return nil
}

func (s *session) run(cmd *cobra.Command) error {
	if err := s.setup(cmd); err != nil {
		return err
	}
	defer logflags.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, a := range s.actions {
		s.dispatch(ctx, a)
	}
	if s.save {
		s.saveDefault()
	}
	if s.report.Failures() > 0 {
		return ErrActionsFailed
	}
	return nil
}
