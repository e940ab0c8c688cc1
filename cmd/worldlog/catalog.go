package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/OCAP2/worldlog/internal/catalog"
	"github.com/OCAP2/worldlog/internal/config"
)

func newCatalogCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the catalog of saved recordings",
	}
	cmd.AddCommand(newCatalogListCommand(a))
	cmd.AddCommand(newCatalogAddCommand(a))
	return cmd
}

// openCatalog connects and migrates the configured catalog database.
func (a *app) openCatalog() (*catalog.Manager, error) {
	m := catalog.NewManager(a.zerolog())
	if err := m.Connect(config.GetCatalogConfig()); err != nil {
		return nil, err
	}
	if err := m.Setup(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func newCatalogListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cataloged recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.openCatalog()
			if err != nil {
				return err
			}
			defer m.Close()

			recs, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTICKS\tTIME\tCHARACTERS\tPATH LENGTH\tARCHIVE")
			for _, r := range recs {
				chars, err := r.CharacterSummaries()
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%g..%g\t%d\t%.3f\t%s\n",
					r.Name, r.Ticks, r.StartTime, r.EndTime, len(chars), r.PathLength, r.ArchivePath)
			}
			return tw.Flush()
		},
	}
}

func newCatalogAddCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add <archive>",
		Short: "Describe a saved archive and add it to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := a.load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer l.Clear()

			return a.catalogRecording(cmd, l, args[0])
		},
	}
}

func (a *app) catalogRecording(cmd *cobra.Command, src catalog.Source, archive string) error {
	rec, err := catalog.Describe(src, archive)
	if err != nil {
		return err
	}
	m, err := a.openCatalog()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Add(cmd.Context(), rec); err != nil {
		return err
	}
	a.logger.Info("Recording cataloged", "name", rec.Name, "archive", rec.ArchivePath, "ticks", rec.Ticks)
	fmt.Fprintf(cmd.OutOrStdout(), "cataloged %s (%d ticks)\n", rec.Name, rec.Ticks)
	return nil
}
