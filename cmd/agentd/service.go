package main

import (
	"fmt"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/agentd/pkg/app"
)

// program adapts the application loop to the service manager contract.
type program struct {
	configPath string
	errCh      chan error
}

func (p *program) Start(_ service.Service) error {
	go func() {
		p.errCh <- app.Run(app.RunParams{
			ConfigPath: p.configPath,
			Version:    version,
			Commit:     commit,
			Date:       date,
		})
	}()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	// app.Run exits on SIGTERM, which the service manager sends; nothing
	// to tear down here.
	return nil
}

func newService(configPath string) (service.Service, *program, error) {
	prg := &program{configPath: configPath, errCh: make(chan error, 1)}

	args := []string{"service", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}

	svc, err := service.New(prg, &service.Config{
		Name:        "agentd",
		DisplayName: "agentd scheduled-agent orchestrator",
		Description: "Runs scheduled AI agents unattended.",
		Arguments:   args,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating service: %w", err)
	}
	return svc, prg, nil
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage agentd as a system service",
	}
	cmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")

	action := func(name string, fn func(service.Service) error) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: name + " the system service",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfgPath, _ := cmd.Flags().GetString("config")
				svc, _, err := newService(cfgPath)
				if err != nil {
					return err
				}
				if err := fn(svc); err != nil {
					return err
				}
				fmt.Printf("Service %s: ok\n", name)
				return nil
			},
		}
	}

	run := &cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager (invoked by the manager, not users)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			svc, prg, err := newService(cfgPath)
			if err != nil {
				return err
			}
			if err := svc.Run(); err != nil {
				return err
			}
			select {
			case err := <-prg.errCh:
				return err
			default:
				return nil
			}
		},
	}

	cmd.AddCommand(
		action("install", func(s service.Service) error { return s.Install() }),
		action("uninstall", func(s service.Service) error { return s.Uninstall() }),
		action("start", func(s service.Service) error { return s.Start() }),
		action("stop", func(s service.Service) error { return s.Stop() }),
		run,
	)
	return cmd
}
