// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - Configuration commands.
//
// Command: config [subcommand]
// Short:   Show and edit configuration
//
// Subcommands:
//   show (default)      Show the effective configuration
//   get KEY             Print one setting
//   set KEY VALUE       Write one setting to the project (or --user) file
//   path                List the files that were applied
//   init                Write a default user config file
//   keys                List every settable key
//
// Examples:
//   scout config get audit.max_segment_bytes
//   scout config set spend.currency EUR
//   scout config set --user log.level debug
package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/scout/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and edit configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConfigShow()
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConfigShow()
		},
	}

	get := &cobra.Command{
		Use:   "get KEY",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.cfg.Get(args[0])
			if err != nil {
				return err
			}
			return a.emit("config get", map[string]any{"key": args[0], "value": v}, func(w io.Writer) {
				fmt.Fprintln(w, v)
			})
		},
	}

	var user bool
	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write one setting to the project config file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configTarget(user)
			if err != nil {
				return err
			}
			if err := setInFile(path, args[0], args[1]); err != nil {
				return err
			}
			return a.emit("config set", map[string]string{"key": args[0], "value": args[1], "file": path}, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s = %s (%s)\n", RenderStatus("ok"), args[0], args[1], path)
			})
		},
	}
	set.Flags().BoolVar(&user, "user", false, "write the user config instead of the project config")

	path := &cobra.Command{
		Use:   "path",
		Short: "List the config files that were applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.emit("config path", a.cfg.Sources, func(w io.Writer) {
				if len(a.cfg.Sources) == 0 {
					fmt.Fprintln(w, DimStyle.Render("No config files; using defaults and environment."))
				}
				for _, s := range a.cfg.Sources {
					fmt.Fprintln(w, s)
				}
			})
		},
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default user config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.configTarget(true)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.SaveTOML(config.Default(), path); err != nil {
				return err
			}
			return a.emit("config init", map[string]string{"file": path}, func(w io.Writer) {
				fmt.Fprintf(w, "%s Wrote %s\n", RenderStatus("ok"), path)
			})
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	keys := &cobra.Command{
		Use:   "keys",
		Short: "List every settable key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := config.Keys()
			return a.emit("config keys", keys, func(w io.Writer) {
				for _, k := range keys {
					fmt.Fprintln(w, k)
				}
			})
		},
	}

	cmd.AddCommand(show, get, set, path, initCmd, keys)
	return cmd
}

func (a *app) runConfigShow() error {
	shown := *a.cfg
	if shown.Server.Token != "" {
		shown.Server.Token = "********"
	}
	return a.emit("config show", shown, func(w io.Writer) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(shown); err != nil {
			fmt.Fprintln(w, ErrorStyle.Render(err.Error()))
			return
		}
		w.Write(buf.Bytes())
	})
}

// configTarget returns the TOML file config set and init write to.
func (a *app) configTarget(user bool) (string, error) {
	if user {
		dir, err := config.ConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, "config.toml"), nil
	}
	dir := a.workDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	return filepath.Join(dir, ".scout.toml"), nil
}

// setInFile applies one setting to the file at path only, so values from
// other layers are not copied into it.
func setInFile(path, key, value string) error {
	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if err := cfg.LoadFile(path); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.SaveTOML(cfg, path)
}
