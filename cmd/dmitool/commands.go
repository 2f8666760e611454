package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/dmiscope/internal/config"
	"github.com/Faultbox/dmiscope/internal/index"
	"github.com/Faultbox/dmiscope/internal/render"
	"github.com/Faultbox/dmiscope/internal/web"
	"github.com/Faultbox/dmiscope/pkg/dmi"
)

func (a *app) scanCommand() *cobra.Command {
	var showFailures bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Index every DMI file below the asset roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, res, err := a.scanned(cmd.Context())
			if err != nil {
				return err
			}
			stats := m.Stats().Index

			cyan.Printf("Roots:    %s\n", strings.Join(a.cfg.Assets.Roots, ", "))
			fmt.Printf("Files:    %d\n", res.Indexed)
			fmt.Printf("States:   %d\n", stats.States)
			if res.Failed > 0 {
				yellow.Printf("Failed:   %d\n", res.Failed)
			} else {
				fmt.Printf("Failed:   0\n")
			}
			fmt.Printf("Took:     %s\n", res.Duration.Round(1e6))

			if showFailures && res.Failed > 0 {
				fmt.Println()
				failures := m.Index().Failures()
				paths := make([]string, 0, len(failures))
				for p := range failures {
					paths = append(paths, p)
				}
				sort.Strings(paths)
				for _, p := range paths {
					red.Printf("  %s\n", p)
					faint.Printf("    %v\n", failures[p])
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&showFailures, "failures", "f", false, "List files that failed to decode")
	return cmd
}

func (a *app) searchCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search files and icon states by name",
		Long: `Search matches the query case-insensitively against file names and
state names. Queries containing *, ? or [ are glob patterns. Exact matches
are listed first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, res, err := a.scanned(cmd.Context())
			if err != nil {
				return err
			}

			matches := m.Search(args[0])
			for i, match := range matches {
				if limit > 0 && i >= limit {
					faint.Printf("... %d more\n", len(matches)-limit)
					break
				}
				printMatch(match)
			}

			fmt.Println()
			fmt.Printf("%d matches in %d files", len(matches), res.Indexed)
			if res.Failed > 0 {
				yellow.Printf(" (%d files skipped)", res.Failed)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Limit output to N matches (0 = all)")
	return cmd
}

func printMatch(m index.Match) {
	mark := " "
	if m.Exact {
		mark = green.Sprint("*")
	}
	if m.StateIndex < 0 {
		fmt.Printf("%s %s\n", mark, m.Path)
		return
	}
	fmt.Printf("%s %s %s\n", mark, cyan.Sprintf("%-24s", m.State), faint.Sprint(m.Path))
}

func (a *app) statesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "states <file.dmi>",
		Short: "List the icon states of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}
			states, err := m.States(args[0])
			if err != nil {
				return err
			}
			for _, s := range states {
				fmt.Println(s.Name)
			}
			return nil
		},
	}
}

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file.dmi>",
		Short: "Show the geometry and states of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}
			e, err := m.Entry(args[0])
			if err != nil {
				return err
			}
			f := e.File

			cyan.Printf("File:     %s\n", e.Path)
			fmt.Printf("Version:  %s\n", f.Version)
			fmt.Printf("Sheet:    %dx%d (%d columns, %d rows)\n", f.Width, f.Height, f.Columns, f.Rows)
			fmt.Printf("Cell:     %dx%d\n", f.CellWidth, f.CellHeight)
			fmt.Printf("States:   %d\n", len(f.States))
			faint.Printf("SHA-256:  %s\n", e.Fingerprint())
			for _, w := range f.Warnings {
				yellow.Printf("Warning:  %s\n", w)
			}
			fmt.Println()

			for _, s := range f.States {
				name := s.Name
				if name == "" {
					name = `""`
				}
				fmt.Printf("  %-24s dirs=%d frames=%d", name, s.Dirs, s.Frames)
				if s.Frames > 1 {
					fmt.Printf(" delay=%s", formatDelays(s.Delays))
				}
				if s.Loop > 0 {
					fmt.Printf(" loop=%d", s.Loop)
				}
				if s.Rewind {
					fmt.Print(" rewind")
				}
				if s.Movement {
					fmt.Print(" movement")
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func formatDelays(delays []float64) string {
	parts := make([]string, len(delays))
	for i, d := range delays {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, ",")
}

func (a *app) exportCommand() *cobra.Command {
	var (
		dir       string
		all       bool
		format    string
		frame     int
		output    string
		scale     int
		filter    string
		quantizer string
	)
	cmd := &cobra.Command{
		Use:   "export <file.dmi> <state>",
		Short: "Export an icon state as GIF or PNG",
		Long: `Export renders one direction of an icon state. The gif format writes the
animation, png a single frame and strip every frame side by side.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, state := args[0], args[1]
			m, err := a.manager()
			if err != nil {
				return err
			}

			opts := m.GIFOptions()
			if cmd.Flags().Changed("scale") {
				opts.Scale = scale
			}
			if filter != "" {
				if opts.Filter, err = render.ParseFilter(filter); err != nil {
					return err
				}
			}
			if quantizer != "" {
				if opts.Quantizer, err = render.ParseQuantizer(quantizer); err != nil {
					return err
				}
			}

			dirs := []dmi.Direction{}
			if all {
				states, err := m.States(path)
				if err != nil {
					return err
				}
				for _, s := range states {
					if s.Name == state {
						dirs = dmi.Directions(s.Dirs)
						break
					}
				}
				if len(dirs) == 0 {
					return fmt.Errorf("state %q not found in %s", state, path)
				}
			} else {
				d, err := dmi.ParseDirection(dir)
				if err != nil {
					return err
				}
				dirs = append(dirs, d)
			}

			for _, d := range dirs {
				var data []byte
				ext := ".png"
				switch format {
				case "gif":
					ext = ".gif"
					data, err = m.ExportWith(cmd.Context(), path, state, d, opts)
				case "png":
					data, err = m.ExportFrame(cmd.Context(), path, state, d, frame)
				case "strip":
					data, err = m.ExportStrip(cmd.Context(), path, state, d)
				default:
					return fmt.Errorf("unknown format %q (want gif, png or strip)", format)
				}
				if err != nil {
					return err
				}

				out := output
				if out == "" || len(dirs) > 1 {
					out = filepath.Join(output, exportName(state, d, ext))
				}
				if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0644); err != nil {
					return err
				}
				green.Printf("Wrote %s ", out)
				faint.Printf("(%d bytes)\n", len(data))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", "south", "Direction: name, short form or index")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Export every direction of the state")
	cmd.Flags().StringVarP(&format, "format", "f", "gif", "Output format: gif, png, strip")
	cmd.Flags().IntVar(&frame, "frame", 0, "Frame index for the png format")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file, or directory with --all")
	cmd.Flags().IntVarP(&scale, "scale", "s", 1, "Integer upscale factor for gif output")
	cmd.Flags().StringVar(&filter, "filter", "", "Scaling filter: "+filterNames())
	cmd.Flags().StringVar(&quantizer, "quantizer", "", "GIF quantizer: mediancut, gogif")
	return cmd
}

func filterNames() string {
	names := make([]string, len(render.Filters))
	for i, f := range render.Filters {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// exportName builds a file name from a state name, which may contain
// characters that are not valid in paths.
func exportName(state string, d dmi.Direction, ext string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			return '_'
		case r < 0x20:
			return -1
		}
		return r
	}, state)
	if clean == "" {
		clean = "state"
	}
	return clean + "-" + d.String() + ext
}

func (a *app) purgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete every cached artifact",
		Long: `Purge deletes the rendered artifacts below the cache directory. It refuses
when the cache directory is the filesystem root, the home directory, or
contains or lies inside an asset root.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}
			before := m.Stats().Cache
			if err := m.Purge(); err != nil {
				return err
			}
			green.Printf("Purged %d artifacts (%d bytes) from %s\n", before.Entries, before.Bytes, m.Cache().Dir())
			return nil
		},
	}
}

func (a *app) serveCommand() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a browser preview of the asset roots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			m, res, err := a.scanned(cmd.Context())
			if err != nil {
				return err
			}
			cyan.Printf("Indexed %d files", res.Indexed)
			if res.Failed > 0 {
				yellow.Printf(" (%d skipped)", res.Failed)
			}
			fmt.Println()
			green.Printf("Serving on http://%s\n", addr)

			return web.Serve(cmd.Context(), addr, m)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or write the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(config.ConfigDir(), "config.yaml")
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			} else if !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := a.cfg.SaveTo(path); err != nil {
				return err
			}
			green.Printf("Wrote %s\n", path)
			return nil
		},
	})
	return cmd
}
