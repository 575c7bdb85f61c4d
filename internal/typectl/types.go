package typectl

import (
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/iomt-labs/telemetry-gateway/internal/catalog"
)

type ListCmd struct{}

func NewListCmd() *ListCmd {
	return &ListCmd{}
}

func (c *ListCmd) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List device types in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := loggerFrom(cmd)
			if err != nil {
				return err
			}
			ctx, cancel, pool, err := connect(cmd, log)
			if err != nil {
				return err
			}
			defer cancel()
			defer pool.Close()

			types, err := catalog.NewPostgresStore(pool).List(ctx)
			if err != nil {
				return fmt.Errorf("failed to list device types: %w", err)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetAutoWrapText(false)
			table.SetHeaderAlignment(tablewriter.ALIGN_CENTER)
			table.SetAutoFormatHeaders(false)
			table.SetBorder(true)
			table.SetHeader([]string{"Device Type", "Prefix", "Columns"})
			for _, dt := range types {
				table.Append([]string{dt.DeviceType, dt.Prefix, strings.Join(dt.Columns, ", ")})
			}
			table.Render()
			return nil
		},
	}
}

type AddCmd struct{}

func NewAddCmd() *AddCmd {
	return &AddCmd{}
}

func (c *AddCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace a device type in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := cmd.Flags().GetString("name")
			if err != nil {
				return fmt.Errorf("failed to get name flag: %w", err)
			}
			prefix, err := cmd.Flags().GetString("prefix")
			if err != nil {
				return fmt.Errorf("failed to get prefix flag: %w", err)
			}
			columns, err := cmd.Flags().GetStringSlice("columns")
			if err != nil {
				return fmt.Errorf("failed to get columns flag: %w", err)
			}
			templateFile, err := cmd.Flags().GetString("template-file")
			if err != nil {
				return fmt.Errorf("failed to get template-file flag: %w", err)
			}

			template, err := os.ReadFile(templateFile)
			if err != nil {
				return fmt.Errorf("failed to read create template: %w", err)
			}

			dt := catalog.DeviceType{
				DeviceType:     name,
				Prefix:         prefix,
				Columns:        columns,
				CreateTemplate: string(template),
			}
			if err := dt.Validate(); err != nil {
				return fmt.Errorf("invalid device type: %w", err)
			}

			log, err := loggerFrom(cmd)
			if err != nil {
				return err
			}
			ctx, cancel, pool, err := connect(cmd, log)
			if err != nil {
				return err
			}
			defer cancel()
			defer pool.Close()

			if err := catalog.NewPostgresStore(pool).Put(ctx, dt); err != nil {
				return fmt.Errorf("failed to store device type: %w", err)
			}
			log.Info("device type stored", "device_type", name, "columns", len(columns))
			return nil
		},
	}
	cmd.Flags().String("name", "", "device type tag, as devices send it")
	cmd.Flags().String("prefix", "", "short prefix shown to client apps")
	cmd.Flags().StringSlice("columns", nil, "ordered column list; the first column is the time column")
	cmd.Flags().String("template-file", "", "path to the table create statement with one %s placeholder for the table name")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("columns")
	_ = cmd.MarkFlagRequired("template-file")
	return cmd
}

type DeleteCmd struct{}

func NewDeleteCmd() *DeleteCmd {
	return &DeleteCmd{}
}

func (c *DeleteCmd) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a device type from the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := cmd.Flags().GetString("name")
			if err != nil {
				return fmt.Errorf("failed to get name flag: %w", err)
			}

			log, err := loggerFrom(cmd)
			if err != nil {
				return err
			}
			ctx, cancel, pool, err := connect(cmd, log)
			if err != nil {
				return err
			}
			defer cancel()
			defer pool.Close()

			if err := catalog.NewPostgresStore(pool).Delete(ctx, name); err != nil {
				return fmt.Errorf("failed to delete device type: %w", err)
			}
			log.Info("device type deleted", "device_type", name)
			return nil
		},
	}
	cmd.Flags().String("name", "", "device type tag to delete")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
