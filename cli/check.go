package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zhubert/shepherd/config"
	"github.com/zhubert/shepherd/exec"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that required CLI tools are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		prereqs := DefaultPrerequisites(cfg.Command)
		results := CheckAll(exec.NewRealExecutor(), prereqs)
		fmt.Print(FormatCheckResults(results))
		return ValidateRequired(prereqs)
	},
}
