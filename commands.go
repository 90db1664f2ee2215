package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/plamorg/tangovim/config"
	"github.com/plamorg/tangovim/dockerapi"
	"github.com/plamorg/tangovim/harness"
	"github.com/plamorg/tangovim/registry"
	"github.com/plamorg/tangovim/vim"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tangovim",
		Short:         "Run VNF test scenarios on Docker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newImageExistsCmd(), newCleanupCmd())
	return root
}

func newDockerClient(conf config.DockerConfig) (*dockerapi.Client, error) {
	docker, err := dockerapi.NewClient(conf.Timeout)
	if err != nil {
		return nil, fmt.Errorf("create Docker client: %w", err)
	}
	if conf.Progress {
		docker.Progress = os.Stdout
	}
	slog.Info("Created Docker client", slog.Any("docker", docker))
	return docker, nil
}

func newRunCmd() *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:   "run SCENARIO",
		Short: "Start the instances of a scenario, run its steps and tear everything down",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if logLevel != "" {
				conf.Log.Level = logLevel
			}
			if err := conf.Log.Initialize(); err != nil {
				return err
			}
			slog.Info("Initialized logging", slog.Any("logger", conf.Log))

			docker, err := newDockerClient(conf.Docker)
			if err != nil {
				return err
			}
			defer docker.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			v := vim.NewDockerVIM(docker, registry.New(conf.Registry))
			report, err := harness.New(conf, v).Run(ctx)
			report.Write(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override the log level of the scenario")
	return cmd
}

func imageExists(ctx context.Context, v *vim.DockerVIM, image string, w io.Writer) error {
	exists, err := v.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", vim.ErrImageNotFound, image)
	}
	fmt.Fprintf(w, "%s exists\n", image)
	return nil
}

func newImageExistsCmd() *cobra.Command {
	var conf registry.Config
	cmd := &cobra.Command{
		Use:   "image-exists IMAGE",
		Short: "Check that an image is available locally or in its registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			docker, err := newDockerClient(config.DockerConfig{})
			if err != nil {
				return err
			}
			defer docker.Close()
			return imageExists(cmd.Context(), vim.NewDockerVIM(docker, registry.New(conf)), args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&conf.DefaultRegistry, "default-registry", "", "registry used for images without a registry host")
	cmd.Flags().BoolVar(&conf.Insecure, "insecure", false, "allow plain HTTP registries")
	return cmd
}

// cleanup removes containers created by a session, or by any session when session is empty.
func cleanup(ctx context.Context, docker dockerapi.Docker, session string, w io.Writer) (int, error) {
	containers, err := docker.ContainerList(ctx, map[string]string{vim.LabelSession: session})
	if err != nil {
		return 0, err
	}
	var errs []error
	removed := 0
	for _, c := range containers {
		if err := docker.RemoveContainer(ctx, c.ID); err != nil && !errors.Is(err, dockerapi.ErrNotFound) {
			errs = append(errs, fmt.Errorf("remove %s: %w", c.Name, err))
			continue
		}
		removed++
		fmt.Fprintf(w, "removed %s (session %s)\n", c.Name, c.Labels[vim.LabelSession])
	}
	return removed, errors.Join(errs...)
}

func newCleanupCmd() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove containers left behind by interrupted scenario runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docker, err := newDockerClient(config.DockerConfig{})
			if err != nil {
				return err
			}
			defer docker.Close()
			removed, err := cleanup(cmd.Context(), docker, session, cmd.OutOrStdout())
			slog.Info("Cleaned up containers", slog.Int("removed", removed))
			return err
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "only remove containers of this session")
	return cmd
}
