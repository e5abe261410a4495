package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Evian-Zhang/udiab/internal/source"
)

// newHarvestCmds creates one subcommand per registered source.
func newHarvestCmds() []*cobra.Command {
	defs := source.All()
	cmds := make([]*cobra.Command, 0, len(defs))
	for _, def := range defs {
		name := string(def.Source)
		cmds = append(cmds, &cobra.Command{
			Use:   strings.ToLower(name),
			Short: fmt.Sprintf("Harvest %s articles", name),
			Long: fmt.Sprintf(`Enumerates the %s listing pages, fetches every linked article
with %d workers by default and appends the records to %s.`, name, def.Workers, def.Source.FileName()),
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				appInstance, err := resolveApp(cmd.Context())
				if err != nil {
					return err
				}
				snap, err := appInstance.Harvest(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("harvest %s: %w", name, err)
				}
				appInstance.Logger().Info("harvest command finished",
					zap.String("source", name),
					zap.Int64("records_written", snap.RecordsWritten),
					zap.Int64("records_dropped", snap.RecordsDropped),
				)
				return nil
			},
		})
	}
	return cmds
}
