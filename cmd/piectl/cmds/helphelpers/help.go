package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its usage function by
// hiding flags that cobra parses for every command but that have no effect
// on cmd.
//
// For example the logging and driver flags are persistent so that
//
//	piectl --log version
//
// parses, but they are meaningless to 'version'.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "help", "version", "completion":
		hideAllFlags(cmd)
	case "piectl":
		// All flags apply
	}
}

func hideAllFlags(cmd *cobra.Command) {
	cmd.InheritedFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
	cmd.PersistentFlags().VisitAll(func(flag *pflag.Flag) {
		flag.Hidden = true
	})
}
