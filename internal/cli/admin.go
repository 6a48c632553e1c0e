package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/victornm/testlink/internal/admin"
	"github.com/victornm/testlink/internal/errors"
	"github.com/victornm/testlink/internal/server"
)

func newAdminCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}

	var email, password string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := initPersistent(*configPath)
			if err != nil {
				return err
			}
			defer s.Close()

			a, err := s.Admin().CreateAdmin(cmd.Context(), admin.CreateAdminRequest{
				Email:    email,
				Password: password,
			})
			if err != nil {
				return errors.Convert(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created admin %d (%s)\n", a.ID, a.Email)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "admin email")
	create.Flags().StringVar(&password, "password", "", "admin password, at least 8 characters")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func newImportCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE...",
		Short: "Import test definitions from YAML or JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := initPersistent(*configPath)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, p := range args {
				t, err := s.Catalog().ImportFile(cmd.Context(), p)
				if err != nil {
					return fmt.Errorf("%s: %w", p, errors.Convert(err))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %s as test %d (%s %s, %d questions)\n",
					p, t.ID, t.Name, t.Version, len(t.Content.Questions))
			}
			return nil
		},
	}
}

// initPersistent wires the services against Postgres, writing to the in-memory store
// would be lost on exit.
func initPersistent(configPath string) (*server.Server, error) {
	c, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.Postgres.Addr == "" {
		return nil, fmt.Errorf("postgres not configured")
	}

	s, err := server.Init(c)
	if err != nil {
		return nil, fmt.Errorf("init server: %w", err)
	}
	return s, nil
}
