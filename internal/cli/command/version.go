package command

import (
	"github.com/urfave/cli/v2"

	"github.com/fugue-ai/rhema-sub010/internal/cli/output"
	"github.com/fugue-ai/rhema-sub010/internal/infra/buildinfo"
)

// VersionCommand prints build information. It needs no configuration.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show build information",
		Action: func(c *cli.Context) error {
			format, err := output.ParseFormat(c.String("output"))
			if err != nil {
				return err
			}
			return output.NewFormatter(format, false).Format(c.App.Writer, buildinfo.Get())
		},
	}
}
